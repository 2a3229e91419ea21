package card

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gregLibert/staffcard/pkg/applet"
	"github.com/gregLibert/staffcard/pkg/auth"
	"github.com/gregLibert/staffcard/pkg/cardlog"
	"github.com/gregLibert/staffcard/pkg/cardsim"
	"github.com/gregLibert/staffcard/pkg/channel"
	"github.com/gregLibert/staffcard/pkg/iso7816"
	"github.com/gregLibert/staffcard/pkg/record"
	"github.com/gregLibert/staffcard/pkg/sigverify"
	"github.com/gregLibert/staffcard/pkg/tlv"
)

var testKey = tlv.Hex("2B7E151628AED2A6ABF7158809CF4F3C")

var holder = record.Employee{
	ID:          "NV0001",
	Name:        "Nguyen Van A",
	DateOfBirth: "1990-05-17",
	Department:  "Engineering",
	Position:    "Developer",
}

type registry struct {
	changed []string
	err     error
}

func (r *registry) PINChanged(_ context.Context, id string) error {
	if r.err != nil {
		return r.err
	}
	r.changed = append(r.changed, id)
	return nil
}

// presented returns a simulated card, selected, and a Service bound to it.
func presented(opts ...Option) (*cardsim.Card, *Service) {
	sim, err := cardsim.New(cardsim.Config{
		Key:      testKey,
		PIN:      "1234",
		Balance:  1000,
		Employee: holder,
	})
	So(err, ShouldBeNil)

	link := applet.NewLink(sim, nil)
	So(link.Transmit(iso7816.SelectByAID(applet.DefaultAID)).IsSuccess(), ShouldBeTrue)

	c, err := channel.New(testKey)
	So(err, ShouldBeNil)
	return sim, New(link, c, opts...)
}

func TestService(t *testing.T) {
	clock := time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)

	Convey("Given a presented card", t, func() {
		sim, svc := presented(WithClock(func() time.Time { return clock }, time.UTC))

		Convey("It authenticates", func() {
			So(svc.Authenticate(), ShouldBeTrue)
		})

		Convey("It exposes the holder record", func() {
			emp, err := svc.Employee()
			So(err, ShouldBeNil)
			So(emp, ShouldResemble, holder)
		})

		Convey("Reads work before the PIN", func() {
			So(svc.Balance(), ShouldResemble, auth.Reading{Value: 1000})
			So(svc.Retries(), ShouldResemble, auth.Reading{Value: 3})
		})

		Convey("Sensitive commands are refused while locked", func() {
			_, err := svc.TopUp(500)
			var se *applet.StatusError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.SW, ShouldEqual, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT)

			So(svc.WriteEmployee(record.Employee{ID: "X"}), ShouldNotBeNil)
		})

		Convey("A wrong PIN costs a try", func() {
			So(svc.VerifyPIN("0000"), ShouldBeFalse)
			So(svc.Retries().Value, ShouldEqual, 2)

			Convey("and the right one restores them", func() {
				So(svc.VerifyPIN("1234"), ShouldBeTrue)
				So(svc.Retries().Value, ShouldEqual, 3)
			})
		})

		Convey("When the PIN is verified", func() {
			So(svc.VerifyPIN("1234"), ShouldBeTrue)

			Convey("a top-up credits and logs", func() {
				bal, err := svc.TopUp(500)
				So(err, ShouldBeNil)
				So(bal, ShouldEqual, int32(1500))

				txs, err := svc.Transactions()
				So(err, ShouldBeNil)
				So(txs, ShouldHaveLength, 1)
				So(txs[0].Subtype, ShouldEqual, cardlog.TransactionTopUp)
				So(txs[0].Amount, ShouldEqual, int32(500))
				So(txs[0].Balance, ShouldEqual, int32(1500))
				So(txs[0].Time.Equal(clock), ShouldBeTrue)
			})

			Convey("a payment is signed for the back office", func() {
				sig, err := svc.Pay(250, 1700000000, 42)
				So(err, ShouldBeNil)

				blob, err := sigverify.EncodePublicKey(sim.PublicKey())
				So(err, ShouldBeNil)
				So(sigverify.Verify(sig, []byte(holder.ID), 250, 1700000000, 42, blob), ShouldBeTrue)
				So(sigverify.Verify(sig, []byte(holder.ID), 251, 1700000000, 42, blob), ShouldBeFalse)

				So(svc.Balance().Value, ShouldEqual, 750)

				txs, err := svc.Transactions()
				So(err, ShouldBeNil)
				So(txs, ShouldHaveLength, 1)
				So(txs[0].Subtype, ShouldEqual, cardlog.TransactionPayment)
				So(txs[0].Balance, ShouldEqual, int32(750))
				So(txs[0].Time.Unix(), ShouldEqual, int64(1700000000))
			})

			Convey("an overdraft is refused", func() {
				_, err := svc.Pay(5000, 1700000000, 43)
				So(err, ShouldNotBeNil)
				So(svc.Balance().Value, ShouldEqual, 1000)
			})

			Convey("the record can be rewritten", func() {
				next := holder
				next.Position = "Lead Developer"
				So(svc.WriteEmployee(next), ShouldBeNil)

				emp, err := svc.Employee()
				So(err, ShouldBeNil)
				So(emp.Position, ShouldEqual, "Lead Developer")
			})

			Convey("an avatar round-trips through the chunked channel", func() {
				photo := make([]byte, 500)
				for i := range photo {
					photo[i] = byte(i * 7)
				}
				rep, err := svc.UploadAvatar(photo)
				So(err, ShouldBeNil)
				So(rep.Chunks, ShouldEqual, 3)
				So(rep.Written, ShouldEqual, 512)

				got := svc.DownloadAvatar()
				So(got, ShouldHaveLength, 512)
				So(bytes.Equal(got[:500], photo), ShouldBeTrue)
			})
		})
	})
}

func TestLogs(t *testing.T) {
	base := time.Date(2024, time.March, 15, 8, 0, 0, 0, time.UTC)

	Convey("Given a card with a mixed log", t, func() {
		sim, svc := presented(WithClock(func() time.Time { return base }, time.UTC))

		for i := range 10 {
			at := base.Add(time.Duration(i) * time.Hour)
			So(svc.AppendAccess(cardlog.AccessCheckIn, at, "Gate A"), ShouldBeNil)
			So(svc.AppendTransaction(cardlog.TransactionPayment, at.Add(time.Minute), int32(i+1), 0, "Canteen"), ShouldBeNil)
		}

		Convey("Access logs come newest first", func() {
			logs, err := svc.AccessLogs()
			So(err, ShouldBeNil)
			So(logs, ShouldHaveLength, 10)
			for i := 1; i < len(logs); i++ {
				So(logs[i-1].Time.After(logs[i].Time), ShouldBeTrue)
			}
			So(logs[0].Text, ShouldEqual, "Gate A")
		})

		Convey("Transactions come newest first", func() {
			txs, err := svc.Transactions()
			So(err, ShouldBeNil)
			So(txs, ShouldHaveLength, 10)
			So(txs[0].Amount, ShouldEqual, int32(10))
			So(txs[9].Amount, ShouldEqual, int32(1))
		})

		Convey("Tombstoned slots are skipped", func() {
			sim.Tombstone(0)
			logs, err := svc.AccessLogs()
			So(err, ShouldBeNil)
			So(logs, ShouldHaveLength, 9)
		})

		Convey("A removed card yields an error, not a crash", func() {
			sim.Reset()
			logs, err := svc.AccessLogs()
			So(err, ShouldNotBeNil)
			So(logs, ShouldBeEmpty)
		})
	})
}

func TestChangePIN(t *testing.T) {
	ctx := context.Background()

	Convey("Given a card and a PIN registry", t, func() {
		reg := &registry{}
		_, svc := presented(WithDefaultPIN("000000"), WithRegistry(reg))

		Convey("A new PIN is set and recorded", func() {
			outcome, err := svc.ChangePIN(ctx, "1234", "5678")
			So(err, ShouldBeNil)
			So(outcome, ShouldEqual, auth.PinOK)
			So(reg.changed, ShouldResemble, []string{"NV0001"})
			So(svc.VerifyPIN("5678"), ShouldBeTrue)
		})

		Convey("Reusing the PIN is refused before talking to the card", func() {
			outcome, _ := svc.ChangePIN(ctx, "1234", "1234")
			So(outcome, ShouldEqual, auth.PinReused)

			outcome, _ = svc.ChangePIN(ctx, "1234", "000000")
			So(outcome, ShouldEqual, auth.PinReused)
			So(reg.changed, ShouldBeEmpty)
		})

		Convey("A wrong current PIN is a card error", func() {
			outcome, err := svc.ChangePIN(ctx, "9999", "5678")
			So(outcome, ShouldEqual, auth.PinCardError)
			So(err, ShouldNotBeNil)
			So(reg.changed, ShouldBeEmpty)
		})

		Convey("A registry failure is a server error", func() {
			reg.err = errors.New("registry unavailable")
			outcome, err := svc.ChangePIN(ctx, "1234", "5678")
			So(outcome, ShouldEqual, auth.PinServerError)
			So(err, ShouldEqual, reg.err)
			So(svc.VerifyPIN("5678"), ShouldBeTrue)
		})
	})
}
