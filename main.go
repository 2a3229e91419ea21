package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/gregLibert/staffcard/internal/config"
	"github.com/gregLibert/staffcard/pkg/auth"
	"github.com/gregLibert/staffcard/pkg/card"
	"github.com/gregLibert/staffcard/pkg/cardlog"
	"github.com/gregLibert/staffcard/pkg/cardsim"
	"github.com/gregLibert/staffcard/pkg/channel"
	"github.com/gregLibert/staffcard/pkg/pcsc"
	"github.com/gregLibert/staffcard/pkg/record"
)

const configFileName = "staffcard.yaml"

func main() {
	configPath := flag.String("config", "", "path to "+configFileName+" (default: next to the binary, then the working directory)")
	debug := flag.Bool("debug", false, "enable debug logging")
	jsonLogs := flag.Bool("json", false, "log as JSON")
	simulate := flag.Bool("simulate", false, "use the in-memory card instead of a reader")
	changePIN := flag.Bool("change-pin", false, "change the PIN after unlocking")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal("config load failed", err)
	}

	// Flags win over the file.
	level := cfg.LogLevel()
	if *debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *jsonLogs || cfg.JSONLogs() {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}
	logger := slog.Default()
	logger.Debug("config loaded", "path", path)

	key, err := cfg.AESKey()
	if err != nil {
		fatal("channel key invalid", err)
	}
	cipher, err := channel.New(key)
	if err != nil {
		fatal("channel key invalid", err)
	}
	aid, err := cfg.AID()
	if err != nil {
		fatal("applet AID invalid", err)
	}

	// --- 1. Reader Setup ---
	connectOpts := pcsc.Options{
		NameFilter: cfg.Reader.NameFilter,
		AID:        aid,
		Logger:     logger,
	}
	if *simulate || cfg.Simulate() {
		reader, err := simulatedReader(key, aid, cfg.Keys.DefaultPIN)
		if err != nil {
			fatal("simulator setup failed", err)
		}
		connectOpts.Establish = reader.Establish
		connectOpts.NameFilter = cardsim.DefaultReader
	}

	session, err := pcsc.Connect(connectOpts)
	if err != nil {
		fatal("connect failed", err)
	}
	fmt.Printf(">> Reader: %s\n", session.Reader())
	if label := session.Info().Label; label != "" {
		fmt.Printf(">> Applet: %s\n", label)
	}

	svc := card.New(session, cipher,
		card.WithLogger(logger),
		card.WithDefaultPIN(cfg.Keys.DefaultPIN),
	)

	// --- 2. Execution Flow ---
	ok := runSteps(svc, *changePIN)

	if err := session.Disconnect(); err != nil {
		logger.Warn("disconnect failed", "error", err)
	}
	if !ok {
		os.Exit(1)
	}
	fmt.Println("\n>> Done")
}

func runSteps(svc *card.Service, changePIN bool) bool {
	if !step1Authenticate(svc) {
		return false
	}
	step2ShowHolder(svc)
	if !step3Unlock(svc) {
		return false
	}
	step4ShowLogs(svc)
	if changePIN {
		step5ChangePIN(svc)
	}
	return true
}

// step1Authenticate proves the card is genuine before anything is trusted.
func step1Authenticate(svc *card.Service) bool {
	fmt.Println("\n>> Step 1: Card authentication")
	if !svc.Authenticate() {
		fmt.Println("   Card failed the challenge. It may be cloned; refusing to continue.")
		return false
	}
	fmt.Println("   Card is genuine.")
	return true
}

func step2ShowHolder(svc *card.Service) {
	fmt.Println("\n>> Step 2: Card holder")
	emp, err := svc.Employee()
	if err != nil {
		fmt.Printf("   No holder record: %v\n", err)
	} else {
		printEmployee(emp)
	}

	bal := svc.Balance()
	fmt.Printf("   Balance:     %s%s\n", formatAmount(int64(bal.Value)), assumed(bal))
}

func step3Unlock(svc *card.Service) bool {
	fmt.Println("\n>> Step 3: PIN")
	for {
		tries := svc.Retries()
		if tries.Value == 0 && !tries.Assumed {
			fmt.Println("   PIN is blocked.")
			return false
		}
		fmt.Printf("   %d tries left%s\n", tries.Value, assumed(tries))

		pin, err := readSecret("   PIN: ")
		if err != nil {
			fatal("read PIN failed", err)
		}
		if pin == "" {
			return false
		}
		if svc.VerifyPIN(pin) {
			fmt.Println("   Unlocked.")
			return true
		}
		fmt.Println("   Wrong PIN.")
	}
}

func step4ShowLogs(svc *card.Service) {
	fmt.Println("\n>> Step 4: Activity")

	access, err := svc.AccessLogs()
	if err != nil {
		fmt.Printf("   Access log unavailable: %v\n", err)
	}
	fmt.Printf("   %d access events\n", len(access))
	for _, e := range access {
		fmt.Printf("   %s  %-9s %s\n", e.Time.Format("2006-01-02 15:04:05"), accessLabel(e.Subtype), e.Text)
	}

	txs, err := svc.Transactions()
	if err != nil {
		fmt.Printf("   Transactions unavailable: %v\n", err)
	}
	fmt.Printf("   %d transactions\n", len(txs))
	for _, e := range txs {
		fmt.Printf("   %s  %-8s %12s  balance %12s  %s\n",
			e.Time.Format("2006-01-02 15:04:05"), transactionLabel(e.Subtype),
			formatAmount(int64(e.Amount)), formatAmount(int64(e.Balance)), e.Text)
	}
}

func step5ChangePIN(svc *card.Service) {
	fmt.Println("\n>> Step 5: Change PIN")
	current, err := readSecret("   Current PIN: ")
	if err != nil {
		fatal("read PIN failed", err)
	}
	next, err := readSecret("   New PIN: ")
	if err != nil {
		fatal("read PIN failed", err)
	}
	again, err := readSecret("   Repeat new PIN: ")
	if err != nil {
		fatal("read PIN failed", err)
	}
	if next != again {
		fmt.Println("   PINs do not match.")
		return
	}

	outcome, err := svc.ChangePIN(context.Background(), current, next)
	switch outcome {
	case auth.PinOK:
		fmt.Println("   PIN changed.")
	case auth.PinReused:
		fmt.Println("   Choose a PIN different from the current and the issued one.")
	default:
		fmt.Printf("   PIN not changed (%s): %v\n", outcome, err)
	}
}

func printEmployee(e record.Employee) {
	fmt.Printf("   ID:          %s\n", e.ID)
	fmt.Printf("   Name:        %s\n", e.Name)
	fmt.Printf("   Born:        %s\n", e.DateOfBirth)
	fmt.Printf("   Department:  %s\n", e.Department)
	fmt.Printf("   Position:    %s\n", e.Position)
}

func accessLabel(s cardlog.Subtype) string {
	switch s {
	case cardlog.AccessCheckIn:
		return "check-in"
	case cardlog.AccessCheckOut:
		return "check-out"
	case cardlog.AccessDenied:
		return "denied"
	}
	return fmt.Sprintf("type %d", s)
}

func transactionLabel(s cardlog.Subtype) string {
	switch s {
	case cardlog.TransactionTopUp:
		return "top-up"
	case cardlog.TransactionPayment:
		return "payment"
	}
	return fmt.Sprintf("type %d", s)
}

// formatAmount renders minor units with two decimals.
func formatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func assumed(r auth.Reading) string {
	if r.Assumed {
		return " (card did not answer, default shown)"
	}
	return ""
}

var stdin = bufio.NewReader(os.Stdin)

// readSecret reads without echo on a terminal, or a plain line from a pipe.
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		return strings.TrimSpace(string(b)), err
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// simulatedReader builds a demo card whose PIN is the configured default.
func simulatedReader(key, aid []byte, pin string) (*cardsim.Reader, error) {
	sim, err := cardsim.New(cardsim.Config{
		AID:     aid,
		Key:     key,
		PIN:     pin,
		Balance: 150000,
		Employee: record.Employee{
			ID:          "NV0001",
			Name:        "Nguyen Van A",
			DateOfBirth: "1990-05-17",
			Department:  "Engineering",
			Position:    "Developer",
		},
	})
	if err != nil {
		return nil, err
	}
	return cardsim.NewReader(sim), nil
}

func defaultConfigPath() string {
	if exe, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exe), configFileName)
		if fileExists(p) {
			return p
		}
	}
	// `go run` places the binary in a temp directory.
	if cwd, err := os.Getwd(); err == nil {
		return filepath.Join(cwd, configFileName)
	}
	return configFileName
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
