package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/handoff/pkg/client"
	"github.com/jmerrifield20/handoff/pkg/proofbundle"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL   string
	cfgFile     string
	adminSecret string
	insecure    bool
	outputJSON  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "handoffctl",
	Short: "Proof-of-handoff CLI",
	Long: `handoffctl drives the handoff API from the command line.

Principals activate sessions; delivery actors generate keys, register them
and prove presence; auditors verify recorded events.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.handoff")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("HANDOFF")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if adminSecret == "" {
			adminSecret = viper.GetString("admin_secret")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.handoff/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "handoff API base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&adminSecret, "admin-secret", "", "operator secret for admin routes")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (development only)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(keygenCmd, registerCmd, activateCmd, challengeCmd, proveCmd,
		verifyCmd, eventCmd, anchorCmd, revokeCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	if adminSecret != "" {
		opts = append(opts, client.WithAdminSecret(adminSecret))
	}
	return client.New(serverURL, opts...)
}

func defaultKeyPath(actorID string) string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".handoff", "keys", actorID+".pem")
}

// printJSON writes v indented to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── keygen ───────────────────────────────────────────────────────────────────

var (
	keygenKind string
	keygenOut  string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen <actor-id>",
	Short: "Generate a signing key pair for a delivery actor",
	Long: `keygen writes the private key to ~/.handoff/keys/<actor-id>.pem (mode 0600)
and prints the public key PEM to register with 'handoffctl register'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priv, pubPEM, err := proofbundle.GenerateKey(proofbundle.KeyKind(keygenKind))
		if err != nil {
			return err
		}
		privPEM, err := proofbundle.PrivateKeyPEM(priv)
		if err != nil {
			return err
		}

		out := keygenOut
		if out == "" {
			out = defaultKeyPath(args[0])
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
			return fmt.Errorf("create key dir: %w", err)
		}
		if _, err := os.Stat(out); err == nil {
			return fmt.Errorf("%s already exists; refusing to overwrite", out)
		}
		if err := os.WriteFile(out, []byte(privPEM), 0o600); err != nil {
			return fmt.Errorf("write private key: %w", err)
		}
		if err := os.WriteFile(out+".pub", []byte(pubPEM), 0o644); err != nil { //nolint:gosec
			return fmt.Errorf("write public key: %w", err)
		}

		fmt.Fprintf(os.Stderr, "✓ %s key written to %s\n\n", keygenKind, out)
		fmt.Print(pubPEM)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenKind, "kind", string(proofbundle.KeyEd25519), "Key kind: ed25519 or ecdsa-p256")
	keygenCmd.Flags().StringVar(&keygenOut, "out", "", "Private key path (default ~/.handoff/keys/<actor-id>.pem)")
}

// ── register ─────────────────────────────────────────────────────────────────

var registerPubKey string

var registerCmd = &cobra.Command{
	Use:   "register <actor-id>",
	Short: "Register an actor's public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actorID := args[0]
		path := registerPubKey
		if path == "" {
			path = defaultKeyPath(actorID) + ".pub"
		}
		pub, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read public key: %w", err)
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		id, err := c.RegisterIdentity(cmd.Context(), actorID, string(pub), "")
		if err != nil {
			return fmt.Errorf("register identity: %w", err)
		}
		if outputJSON {
			return printJSON(id)
		}
		fmt.Printf("✓ Actor registered\n\n")
		fmt.Printf("  Actor:    %s\n", id.ActorID)
		fmt.Printf("  Key kind: %s\n", id.KeyKind)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerPubKey, "public-key", "", "Public key file (PEM or OpenSSH; default ~/.handoff/keys/<actor-id>.pem.pub)")
}

// ── activate ─────────────────────────────────────────────────────────────────

var (
	activatePrincipal string
	activateSubject   string
	activateTTL       time.Duration
	activateKind      string
)

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Activate a handoff session and print its secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		sess, err := c.ActivateSession(cmd.Context(), client.ActivateRequest{
			PrincipalID: activatePrincipal,
			SubjectID:   activateSubject,
			TTL:         activateTTL,
			SecretKind:  activateKind,
		})
		if err != nil {
			return fmt.Errorf("activate session: %w", err)
		}
		if outputJSON {
			return printJSON(sess)
		}
		fmt.Printf("✓ Session active\n\n")
		fmt.Printf("  Session: %s\n", sess.SessionID)
		fmt.Printf("  Secret:  %s\n", sess.Secret)
		fmt.Printf("  Kind:    %s\n", sess.SecretKind)
		fmt.Printf("  Expires: %s\n\n", sess.ExpiresAt.Format(time.RFC3339))
		fmt.Println("The secret is shown once. Share it with the actor over the short-range channel.")
		return nil
	},
}

func init() {
	activateCmd.Flags().StringVar(&activatePrincipal, "principal", "", "Principal (recipient) ID")
	activateCmd.Flags().StringVar(&activateSubject, "subject", "", "Subject (order/parcel) ID")
	activateCmd.Flags().DurationVar(&activateTTL, "ttl", 15*time.Minute, "Session lifetime")
	activateCmd.Flags().StringVar(&activateKind, "secret-kind", "", "short-range-signal (default) or visual-code")
	_ = activateCmd.MarkFlagRequired("principal")
	_ = activateCmd.MarkFlagRequired("subject")
}

// ── challenge ────────────────────────────────────────────────────────────────

var challengeCmd = &cobra.Command{
	Use:   "challenge <session-id> <actor-id>",
	Short: "Request a challenge nonce for an actor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ch, err := c.IssueChallenge(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("issue challenge: %w", err)
		}
		if outputJSON {
			return printJSON(ch)
		}
		fmt.Printf("  Challenge: %s\n", ch.ChallengeID)
		fmt.Printf("  Nonce:     %s\n", ch.Nonce)
		fmt.Printf("  Expires:   %s\n", ch.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

// ── prove ────────────────────────────────────────────────────────────────────

var (
	proveKey      string
	proveEvidence []string
)

var proveCmd = &cobra.Command{
	Use:   "prove <session-id> <actor-id> <secret>",
	Short: "Prove presence: fetch a challenge, sign it and submit the proof",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, actorID, secret := args[0], args[1], args[2]
		keyPath := proveKey
		if keyPath == "" {
			keyPath = defaultKeyPath(actorID)
		}
		signer, err := client.LoadSigner(actorID, keyPath)
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		res, err := c.Prove(ctx, signer, sessionID, secret, proveEvidence)
		if err != nil {
			return fmt.Errorf("prove: %w", err)
		}
		if outputJSON {
			return printJSON(res)
		}
		fmt.Printf("✓ Proof %s\n\n", res.Status)
		fmt.Printf("  Event:       %s\n", res.EventID)
		fmt.Printf("  Anchor hash: %s\n", res.AnchorHash)
		fmt.Printf("  Anchor:      %s\n", res.AnchorState)
		if res.LedgerRef != "" {
			fmt.Printf("  Ledger ref:  %s\n", res.LedgerRef)
		}
		return nil
	},
}

func init() {
	proveCmd.Flags().StringVar(&proveKey, "key", "", "Private key file (default ~/.handoff/keys/<actor-id>.pem)")
	proveCmd.Flags().StringSliceVar(&proveEvidence, "evidence", nil, "Evidence SHA-256 hex digests (repeatable)")
}

// ── verify / event / anchor ──────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <event-id>",
	Short: "Audit a recorded delivery event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		r, err := c.VerifyEvent(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("verify event: %w", err)
		}
		if outputJSON {
			return printJSON(r)
		}
		fmt.Printf("  Event:            %s\n", r.EventID)
		fmt.Printf("  State:            %s\n", r.State)
		fmt.Printf("  Hash matches:     %s\n", mark(r.HashMatches))
		fmt.Printf("  Signature valid:  %s\n", mark(r.SignatureValid))
		fmt.Printf("  Ledger confirmed: %s\n", mark(r.LedgerConfirmed))
		if r.LedgerError != "" {
			fmt.Printf("  Ledger error:     %s\n", r.LedgerError)
		}
		if !r.HashMatches || !r.SignatureValid {
			return fmt.Errorf("event %s failed verification", r.EventID)
		}
		return nil
	},
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

var eventCmd = &cobra.Command{
	Use:   "event <event-id>",
	Short: "Show a recorded delivery event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ev, err := c.GetEvent(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		return printJSON(ev)
	},
}

var anchorCmd = &cobra.Command{
	Use:   "anchor <event-id>",
	Short: "Force an anchoring attempt (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.AnchorEvent(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("anchor event: %w", err)
		}
		if outputJSON {
			return printJSON(res)
		}
		fmt.Printf("  Event:      %s\n", res.EventID)
		fmt.Printf("  State:      %s\n", res.State)
		fmt.Printf("  Ledger ref: %s\n", res.LedgerRef)
		return nil
	},
}

// ── revoke ───────────────────────────────────────────────────────────────────

var revokeCmd = &cobra.Command{
	Use:   "revoke <actor-id>",
	Short: "Revoke an actor's registered key (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.RevokeIdentity(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("revoke identity: %w", err)
		}
		fmt.Printf("✓ Actor %s revoked\n", args[0])
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("handoffctl", version)
	},
}
