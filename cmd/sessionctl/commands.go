package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/internal/session"
	"github.com/medimantra/telehealth/pkg/logger"
)

// cli carries what every subcommand needs once flags are resolved.
type cli struct {
	environment map[string]string
	cfg         *Config
	logger      *slog.Logger
	ctrl        *session.Controller
}

func newRootCmd(environment map[string]string) *cobra.Command {
	c := &cli{environment: environment}
	var (
		apiURL    string
		timeout   time.Duration
		storePath string
		logLevel  string
	)

	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Sign in to the telehealth API and manage the stored session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(c.environment)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("api-url") {
				cfg.APIURL = apiURL
			}
			if flags.Changed("timeout") {
				cfg.Timeout = clampTimeout(timeout)
			}
			if flags.Changed("store") {
				cfg.StorePath = storePath
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			return c.setup(cfg, cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&apiURL, "api-url", "", "base URL of the auth API (SESSION_API_URL)")
	pf.DurationVar(&timeout, "timeout", 0, "request timeout, clamped to 10s-30s (SESSION_TIMEOUT)")
	pf.StringVar(&storePath, "store", "", "session file (SESSION_STORE_PATH)")
	pf.StringVar(&logLevel, "log-level", "", "diagnostic log level (SESSION_LOG_LEVEL)")

	root.AddCommand(
		c.loginCmd(),
		c.registerCmd(),
		c.whoamiCmd(),
		c.statusCmd(),
		c.logoutCmd(),
	)
	return root
}

func (c *cli) setup(cfg *Config, stderr io.Writer) error {
	storage, err := session.NewFileStorage(cfg.StorePath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger.NewText(cfg.LogLevel, stderr)

	client := session.NewClient(cfg.APIURL, session.ClientConfig{Timeout: cfg.Timeout}, c.logger)
	c.ctrl = session.NewController(client, storage,
		session.WithLogger(c.logger),
		session.WithNavigator(session.NavigatorFunc(func() {
			fmt.Fprintln(stderr, "Session ended. Run `sessionctl login` to sign in again.")
		})),
	)
	return nil
}

func (c *cli) loginCmd() *cobra.Command {
	var (
		email, password string
		asDoctor        bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordOrPrompt(cmd, password)
			if err != nil {
				return err
			}
			login := c.ctrl.Login
			if asDoctor {
				login = c.ctrl.LoginDoctor
			}
			identity, err := login(cmd.Context(), email, pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", identity.Email, identity.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when omitted)")
	cmd.Flags().BoolVar(&asDoctor, "doctor", false, "use the doctor portal")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var (
		reg      session.Registration
		doc      session.DoctorRegistration
		asDoctor bool
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordOrPrompt(cmd, reg.Password)
			if err != nil {
				return err
			}
			reg.Password = pw

			var identity *domain.Identity
			if asDoctor {
				doc.Registration = reg
				identity, err = c.ctrl.RegisterDoctor(cmd.Context(), doc)
			} else {
				identity, err = c.ctrl.Register(cmd.Context(), reg)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s)\n", identity.Email, identity.Role)
			if identity.IsDoctor() {
				fmt.Fprintln(cmd.OutOrStdout(), "Your doctor profile is pending verification.")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&reg.Email, "email", "", "account email")
	f.StringVar(&reg.Password, "password", "", "account password (read from stdin when omitted)")
	f.StringVar(&reg.FirstName, "first-name", "", "first name")
	f.StringVar(&reg.LastName, "last-name", "", "last name")
	f.StringVar(&reg.Phone, "phone", "", "phone number in international format")
	f.BoolVar(&asDoctor, "doctor", false, "register as a doctor")
	f.StringSliceVar(&doc.Specialties, "specialty", nil, "doctor specialty (repeatable)")
	f.StringVar(&doc.LicenseNumber, "license", "", "doctor license number")
	f.IntVar(&doc.ExperienceYears, "experience", 0, "years of experience")
	f.Int64Var(&doc.ConsultationFee, "fee", 0, "consultation fee in minor units")
	f.StringVar(&doc.Bio, "bio", "", "short biography")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")
	return cmd
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed-in identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.ctrl.Bootstrap(cmd.Context()).IsAuthenticated() {
				return errors.New("not signed in")
			}
			identity, err := c.ctrl.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(identity)
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Restore the stored session and print its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := c.ctrl.Bootstrap(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "state: %s\n", s.State)
			if s.IsAuthenticated() {
				fmt.Fprintf(out, "user:  %s (%s)\n", s.Identity.Email, s.Identity.Role)
			}
			fmt.Fprintf(out, "store: %s\n", c.cfg.StorePath)
			return nil
		},
	}
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c.ctrl.Bootstrap(ctx)
			c.ctrl.Logout(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func passwordOrPrompt(cmd *cobra.Command, password string) (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
