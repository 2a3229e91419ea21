/*
Package iso7816 implements the APDU layer used to talk to the staff card applet,
following ISO/IEC 7816-3 and 7816-4.

It provides Command and Response structures, Status Word analysis, the SELECT
builder and a Client that resolves the T=0 '61XX' and '6CXX' transport
procedures into a single logical Trace.

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

# Status Words

Every response ends with a 2-byte Status Word (SW).
  - 0x9000: Success (OK). Nothing else is treated as success.
  - 0x61XX: response data is still available (XX bytes), resolved by the Client.
  - 0x6CXX: wrong length expectation (XX is the correct length), resolved by the Client.
  - 0x63CX: verification failed, X tries remain.
  - 0x0000 (SW_NONE): no answer was obtained from the transport.

# Usage Example

	client := iso7816.NewClient(card)

	trace, err := client.Send(iso7816.SelectByAID(aid))
	if err != nil {
	    log.Fatal(err)
	}
	if !trace.IsSuccess() {
	    log.Fatalf("select failed: %s", trace.Status().Verbose())
	}
	fmt.Printf("FCI: %X\n", trace.Data())
*/
package iso7816
