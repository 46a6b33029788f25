package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/resolutionconsent/digipin/internal/geocodec"
	"github.com/resolutionconsent/digipin/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	registryURL string
	cfgFile     string
	outFormat   string
	insecure    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "digipin",
	Short: "DigiPin address registry CLI",
	Long: `digipin is the command-line interface for a DigiPin registry.

It encodes and decodes DigiPin codes offline, resolves digital addresses
with the owner's consent, reports delivery outcomes and verifies the
registry's audit ledger.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".digipin"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("DIGIPIN")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if registryURL == "" {
			registryURL = viper.GetString("registry_url")
		}
		if registryURL == "" {
			registryURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.digipin/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "DigiPin registry URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&outFormat, "format", "text", "Output format: text or json")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (development only)")

	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(confidenceCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(addressesCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client from the global flags and the saved session.
func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	if tok := viper.GetString("token"); tok != "" {
		opts = append(opts, client.WithBearerToken(tok))
	}
	return client.New(registryURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describeErr adds the audit fields of a failed registry call to its message.
func describeErr(op string, err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.AuditKey != "" {
		return fmt.Errorf("%s: %w (audit key %s, logged=%t)", op, err, apiErr.AuditKey, apiErr.AuditLogged)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// prompt reads one line from stdin after printing label.
func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

// ── encode / decode ──────────────────────────────────────────────────────────

var encodeCmd = &cobra.Command{
	Use:   "encode <latitude> <longitude>",
	Short: "Encode a coordinate as a DigiPin (offline)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("latitude %q is not a number", args[0])
		}
		lon, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("longitude %q is not a number", args[1])
		}
		code, err := geocodec.Encode(lat, lon)
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(map[string]any{"digipin": code, "latitude": lat, "longitude": lon})
		}
		fmt.Println(code)
		return nil
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode <digipin>",
	Short: "Decode a DigiPin to the center and bounds of its cell (offline)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cell, err := geocodec.Decode(args[0])
		if err != nil {
			return err
		}
		lat, lon := cell.Center()
		code := geocodec.Format(geocodec.Normalize(args[0]))
		if outFormat == "json" {
			return printJSON(map[string]any{"digipin": code, "latitude": lat, "longitude": lon, "cell": cell})
		}
		fmt.Printf("DigiPin:   %s\n", code)
		fmt.Printf("Center:    %.6f, %.6f\n", lat, lon)
		fmt.Printf("Latitude:  %.6f .. %.6f\n", cell.MinLat, cell.MaxLat)
		fmt.Printf("Longitude: %.6f .. %.6f\n", cell.MinLon, cell.MaxLon)
		return nil
	},
}

// ── resolve ──────────────────────────────────────────────────────────────────

var (
	resolvePIN       string
	resolveToken     string
	resolveRequester string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <username@suffix>",
	Short: "Resolve a digital address with a UPI PIN or consent token",
	Long: `Resolve looks up the coordinates of a digital address.

Pass --token to use a consent token the owner shared with you. Otherwise
the owner's UPI PIN is read from --pin or prompted for:

  digipin resolve asha@home --token 7fQ2...
  digipin resolve asha@home --requester acme-logistics

Every attempt is recorded in the registry's audit ledger.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolvePIN, "pin", "", "Owner's UPI PIN (prompted when neither --pin nor --token is set)")
	resolveCmd.Flags().StringVar(&resolveToken, "token", "", "Consent token shared by the owner")
	resolveCmd.Flags().StringVar(&resolveRequester, "requester", "", "Name of the requesting service, recorded in the audit ledger")
	resolveCmd.MarkFlagsMutuallyExclusive("pin", "token")
}

func runResolve(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	handle := args[0]

	var res *client.Resolution
	if resolveToken != "" {
		res, err = c.ResolveToken(ctx, handle, resolveToken, resolveRequester)
	} else {
		pin := resolvePIN
		if pin == "" {
			if pin, err = prompt("UPI PIN: "); err != nil {
				return err
			}
		}
		res, err = c.Resolve(ctx, handle, pin, resolveRequester)
	}
	if err != nil {
		return describeErr("resolve "+handle, err)
	}

	if outFormat == "json" {
		return printJSON(res)
	}
	fmt.Printf("Address:     %s\n", res.Handle)
	fmt.Printf("DigiPin:     %s\n", res.DigiPin)
	fmt.Printf("Coordinates: %.6f, %.6f\n", res.Latitude, res.Longitude)
	if res.Address != "" {
		fmt.Printf("Postal:      %s\n", res.Address)
	}
	fmt.Printf("Confidence:  %.0f (%s)\n", res.Confidence, res.Tier)
	if res.ExpiresAt != nil {
		fmt.Printf("Consent:     %s, expires %s\n", res.ConsentType, res.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Printf("Consent:     %s\n", res.ConsentType)
	}
	fmt.Printf("Audit key:   %s (logged=%t)\n", res.AuditKey, res.AuditLogged)
	return nil
}

// ── feedback / confidence ────────────────────────────────────────────────────

var feedbackRequester string

var feedbackCmd = &cobra.Command{
	Use:   "feedback <username@suffix> <SUCCESS|FAILURE|NEUTRAL>",
	Short: "Report the outcome of a delivery to an address",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Feedback(cmd.Context(), args[0], strings.ToUpper(args[1]), feedbackRequester)
		if err != nil {
			return describeErr("feedback", err)
		}
		if outFormat == "json" {
			return printJSON(res)
		}
		ch := res.Change
		fmt.Printf("%s: %.0f -> %.0f (%s -> %s), %d fulfillments\n",
			ch.Handle, ch.PreviousScore, ch.NewScore, ch.PreviousTier, ch.NewTier, ch.TotalFulfillments)
		return nil
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackRequester, "requester", "", "Name of the reporting service")
}

var confidenceCmd = &cobra.Command{
	Use:   "confidence <username@suffix>",
	Short: "Show the confidence score and use-case eligibility of an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		e, err := c.Confidence(cmd.Context(), args[0])
		if err != nil {
			return describeErr("confidence", err)
		}
		if outFormat == "json" {
			return printJSON(e)
		}
		fmt.Printf("Address:    %s\n", e.Handle)
		fmt.Printf("Score:      %.0f (%s)\n", e.ConfidenceScore, e.Tier)
		fmt.Printf("Verified:   %t\n", e.PhysicallyVerified)
		fmt.Printf("Advice:     %s\n\n", e.Recommendation)

		names := make([]string, 0, len(e.UseCases))
		for name := range e.UseCases {
			names = append(names, name)
		}
		slices.Sort(names)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "USE CASE\tELIGIBLE")
		for _, name := range names {
			fmt.Fprintf(w, "%s\t%t\n", name, e.UseCases[name])
		}
		return w.Flush()
	},
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify the registry's audit ledger",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <audit-key>",
	Short: "Verify a single audit entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		entry, err := c.VerifyAuditEntry(cmd.Context(), args[0])
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Tampered {
				return fmt.Errorf("entry %s has been TAMPERED with: %s", args[0], apiErr.Message)
			}
			return fmt.Errorf("verify %s: %w", args[0], err)
		}
		if outFormat == "json" {
			return printJSON(entry)
		}
		fmt.Printf("✓ Entry %s is intact\n\n", entry.Key)
		fmt.Printf("  Seq:     %d\n", entry.Seq)
		fmt.Printf("  Event:   %s\n", entry.Type)
		fmt.Printf("  Subject: %s\n", entry.Subject)
		fmt.Printf("  Time:    %s\n", entry.Timestamp.Format(time.RFC3339))
		fmt.Printf("  Hash:    %s\n", entry.Hash)
		return nil
	},
}

var auditChainCmd = &cobra.Command{
	Use:   "verify-chain",
	Short: "Verify the hash chain of the whole ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		st, err := c.VerifyChain(cmd.Context())
		if err != nil {
			return fmt.Errorf("verify chain: %w", err)
		}
		if outFormat == "json" {
			return printJSON(st)
		}
		if !st.Valid {
			return fmt.Errorf("ledger chain broken at %s: %s", st.AuditKey, st.Error)
		}
		fmt.Println("✓ Ledger chain is intact")
		return nil
	},
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show audit ledger statistics (requires login)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		st, err := c.AuditStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("audit stats: %w", err)
		}
		if outFormat == "json" {
			return printJSON(st)
		}
		fmt.Printf("Backend:     %s\n", st.Backend)
		fmt.Printf("Entries:     %d\n", st.Entries)
		fmt.Printf("Last seq:    %d\n", st.LastSeq)
		fmt.Printf("Root:        %s\n", st.Root)
		if !st.LastAppend.IsZero() {
			fmt.Printf("Last append: %s\n", st.LastAppend.Format(time.RFC3339))
		}
		return nil
	},
}

var auditHistoryCmd = &cobra.Command{
	Use:   "history <username@suffix>",
	Short: "Show the audit trail of one of your addresses (requires login)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		entries, err := c.History(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		if outFormat == "json" {
			return printJSON(entries)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tEVENT\tACTOR\tKEY")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Timestamp.Format(time.RFC3339), e.Type, e.Actor, e.Key)
		}
		return w.Flush()
	},
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditChainCmd)
	auditCmd.AddCommand(auditStatsCmd)
	auditCmd.AddCommand(auditHistoryCmd)
}

// ── login ────────────────────────────────────────────────────────────────────

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login <email-or-phone>",
	Short: "Log in and save the session token to the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		pw := loginPassword
		if pw == "" {
			if pw, err = prompt("Password: "); err != nil {
				return err
			}
		}
		sess, err := c.Login(cmd.Context(), args[0], pw)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		path, err := saveSession(sess.Token)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Logged in as %s\n", sess.User.Username)
		fmt.Printf("  Session saved to %s (valid %s)\n", path, time.Duration(sess.ExpiresIn)*time.Second)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (prompted when empty)")
}

// saveSession writes the registry URL and token to the active config file.
func saveSession(token string) (string, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locate home directory: %w", err)
		}
		path = filepath.Join(home, ".digipin", "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	viper.Set("registry_url", registryURL)
	viper.Set("token", token)
	if err := viper.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("restrict config permissions: %w", err)
	}
	return path, nil
}

// ── addresses ────────────────────────────────────────────────────────────────

var addressesCmd = &cobra.Command{
	Use:   "addresses",
	Short: "List your digital addresses (requires login)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		addrs, err := c.ListAddresses(cmd.Context())
		if err != nil {
			return fmt.Errorf("list addresses: %w", err)
		}
		if outFormat == "json" {
			return printJSON(addrs)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tDIGIPIN\tSCORE\tTIER\tFULFILLMENTS")
		for _, a := range addrs {
			fmt.Fprintf(w, "%s\t%s\t%.0f\t%s\t%d\n", a.Handle, a.DigiPin, a.ConfidenceScore, a.Tier, a.TotalFulfillments)
		}
		return w.Flush()
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <username@suffix>",
	Short: "Revoke the active consent of one of your addresses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.RevokeConsent(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("revoke consent: %w", err)
		}
		fmt.Printf("✓ Consent revoked for %s\n", args[0])
		fmt.Println("  Previously shared PINs and tokens no longer resolve this address.")
		return nil
	},
}

func init() {
	addressesCmd.AddCommand(revokeCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("digipin %s\n", version)
	},
}
