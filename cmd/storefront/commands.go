package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/storefront/internal/storefront"
	"github.com/tyemirov/storefront/internal/tokenstore"
	"github.com/tyemirov/storefront/pkg/pipeline"
	"go.uber.org/zap"
)

var errNotLoggedIn = errors.New("storefront.cli.not_logged_in: run storefront login first")

// failure renders a normalized pipeline error with its field messages, one
// per line, while keeping the original error reachable through Unwrap.
type failure struct {
	message string
	cause   error
}

func (rendered *failure) Error() string {
	return rendered.message
}

func (rendered *failure) Unwrap() error {
	return rendered.cause
}

func describeFailure(err error) error {
	normalized, ok := pipeline.AsError(err)
	if !ok {
		return err
	}
	var builder strings.Builder
	builder.WriteString(normalized.Message)
	if normalized.ErrorCode != "" {
		builder.WriteString(" (" + normalized.ErrorCode + ")")
	}
	for _, fieldError := range normalized.Errors {
		builder.WriteString("\n  " + fieldError.Field + ": " + fieldError.Message)
	}
	return &failure{message: builder.String(), cause: err}
}

func writeJSON(command *cobra.Command, value any) error {
	encoder := json.NewEncoder(command.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// withSession opens a session, runs action and renders its failure.
func withSession(action func(command *cobra.Command, arguments []string, current *session) error) func(*cobra.Command, []string) error {
	return func(command *cobra.Command, arguments []string) error {
		current, openErr := openSession(command)
		if openErr != nil {
			return openErr
		}
		defer current.Close()
		return describeFailure(action(command, arguments, current))
	}
}

func newLoginCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "login",
		Short:   "Log in and store the session",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withSession(func(command *cobra.Command, arguments []string, current *session) error {
			email, _ := command.Flags().GetString("email")
			password, _ := command.Flags().GetString("password")
			if password == "" {
				password = viper.GetString("password")
			}
			user, err := current.client.Login(commandContext(command), storefront.LoginInput{Email: email, Password: password})
			if err != nil {
				return err
			}
			return writeJSON(command, user)
		}),
	}
	command.Flags().String("email", "", "Account email")
	command.Flags().String("password", "", "Account password (or STOREFRONT_PASSWORD)")
	return command
}

func newRegisterCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "register",
		Short:   "Create an account",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withSession(func(command *cobra.Command, arguments []string, current *session) error {
			name, _ := command.Flags().GetString("name")
			email, _ := command.Flags().GetString("email")
			password, _ := command.Flags().GetString("password")
			role, _ := command.Flags().GetString("role")
			if password == "" {
				password = viper.GetString("password")
			}
			account, err := current.client.Register(commandContext(command), storefront.RegisterInput{Name: name, Email: email, Password: password, Role: role})
			if err != nil {
				return err
			}
			return writeJSON(command, account)
		}),
	}
	command.Flags().String("name", "", "Display name")
	command.Flags().String("email", "", "Account email")
	command.Flags().String("password", "", "Account password (or STOREFRONT_PASSWORD)")
	command.Flags().String("role", "", "Account role (customer or admin)")
	return command
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "logout",
		Short:   "End the session and forget the stored tokens",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withSession(func(command *cobra.Command, arguments []string, current *session) error {
			if err := current.client.Logout(commandContext(command)); err != nil {
				return err
			}
			_, err := fmt.Fprintln(command.OutOrStdout(), "logged out")
			return err
		}),
	}
}

type sessionReport struct {
	User      *tokenstore.User   `json:"user"`
	ExpiresAt time.Time          `json:"expiresAt"`
	Remaining string             `json:"remaining"`
	Account   storefront.Account `json:"account"`
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:     "whoami",
		Short:   "Show the stored session and the account the backend reports",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withSession(func(command *cobra.Command, arguments []string, current *session) error {
			ctx := commandContext(command)
			user, ok := current.store.CurrentUser(ctx)
			if !ok {
				return errNotLoggedIn
			}
			account, err := current.client.Me(ctx)
			if err != nil {
				return err
			}
			expiry := current.store.TokenExpiry(ctx)
			return writeJSON(command, sessionReport{
				User:      user,
				ExpiresAt: expiry.ExpiresAt,
				Remaining: expiry.Remaining.Round(time.Second).String(),
				Account:   account,
			})
		}),
	}
}

func newRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "refresh",
		Short:   "Exchange the refresh token for a new access token",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withSession(func(command *cobra.Command, arguments []string, current *session) error {
			ctx := commandContext(command)
			if err := current.client.Refresh(ctx); err != nil {
				return err
			}
			expiry := current.store.TokenExpiry(ctx)
			_, err := fmt.Fprintf(command.OutOrStdout(), "access token valid until %s\n", expiry.ExpiresAt.Format(time.RFC3339))
			return err
		}),
	}
}

func newSweetsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "sweets",
		Short:   "List the sweet catalog",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withSession(func(command *cobra.Command, arguments []string, current *session) error {
			page, err := current.client.ListSweets(commandContext(command), sweetQueryFromFlags(command))
			if err != nil {
				return err
			}
			return writeJSON(command, page)
		}),
	}
	command.Flags().Int("page", 0, "Page number")
	command.Flags().Int("limit", 0, "Page size")
	command.Flags().String("sort_by", "", "Sort field (name, price, quantity)")
	command.Flags().String("sort_order", "", "Sort order (asc or desc)")
	command.Flags().String("name", "", "Name contains")
	command.Flags().String("category", "", "Category name")
	command.Flags().Float64("min_price", 0, "Minimum price")
	command.Flags().Float64("max_price", 0, "Maximum price")
	command.Flags().Bool("in_stock", false, "Filter by stock availability")
	return command
}

func sweetQueryFromFlags(command *cobra.Command) storefront.SweetQuery {
	flags := command.Flags()
	var query storefront.SweetQuery
	query.Page, _ = flags.GetInt("page")
	query.Limit, _ = flags.GetInt("limit")
	query.SortBy, _ = flags.GetString("sort_by")
	query.SortOrder, _ = flags.GetString("sort_order")
	query.Name, _ = flags.GetString("name")
	query.Category, _ = flags.GetString("category")
	query.MinPrice, _ = flags.GetFloat64("min_price")
	query.MaxPrice, _ = flags.GetFloat64("max_price")
	if flags.Changed("in_stock") {
		inStock, _ := flags.GetBool("in_stock")
		query.InStock = &inStock
	}
	return query
}

func newPurchaseCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "purchase <sweet-id>",
		Short:   "Buy a sweet",
		Args:    cobra.ExactArgs(1),
		PreRunE: prepareClientConfig,
		RunE: withSession(func(command *cobra.Command, arguments []string, current *session) error {
			sweetID, parseErr := parseSweetID(arguments[0])
			if parseErr != nil {
				return parseErr
			}
			quantity, _ := command.Flags().GetInt("quantity")
			purchase, err := current.client.PurchaseSweet(commandContext(command), sweetID, quantity)
			if err != nil {
				return err
			}
			return writeJSON(command, purchase)
		}),
	}
	command.Flags().Int("quantity", 1, "Units to buy")
	return command
}

func newRestockCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "restock <sweet-id>",
		Short:   "Add stock to a sweet (admin only)",
		Args:    cobra.ExactArgs(1),
		PreRunE: prepareClientConfig,
		RunE: withSession(func(command *cobra.Command, arguments []string, current *session) error {
			sweetID, parseErr := parseSweetID(arguments[0])
			if parseErr != nil {
				return parseErr
			}
			quantity, _ := command.Flags().GetInt("quantity")
			sweet, err := current.client.RestockSweet(commandContext(command), sweetID, quantity)
			if err != nil {
				return err
			}
			return writeJSON(command, sweet)
		}),
	}
	command.Flags().Int("quantity", 1, "Units to add")
	return command
}

func parseSweetID(raw string) (int64, error) {
	sweetID, parseErr := strconv.ParseInt(raw, 10, 64)
	if parseErr != nil || sweetID <= 0 {
		return 0, fmt.Errorf("storefront.cli.invalid_sweet_id: %q is not a sweet id", raw)
	}
	return sweetID, nil
}

func newCategoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "categories",
		Short:   "List the active categories",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withSession(func(command *cobra.Command, arguments []string, current *session) error {
			categories, err := current.client.ListCategories(commandContext(command))
			if err != nil {
				return err
			}
			return writeJSON(command, categories)
		}),
	}
}

func newRequestCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "request <METHOD> <path>",
		Short:   "Send a raw request through the pipeline",
		Args:    cobra.ExactArgs(2),
		PreRunE: prepareClientConfig,
		RunE: withSession(func(command *cobra.Command, arguments []string, current *session) error {
			request := pipeline.Request{Method: strings.ToUpper(arguments[0]), URL: arguments[1]}
			data, _ := command.Flags().GetString("data")
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("storefront.cli.invalid_data: --data must be JSON")
				}
				request.Body = json.RawMessage(data)
			}
			response, err := current.client.Pipeline().Send(commandContext(command), request)
			if err != nil {
				return err
			}
			var indented bytes.Buffer
			if indentErr := json.Indent(&indented, response.Body, "", "  "); indentErr != nil {
				_, writeErr := command.OutOrStdout().Write(response.Body)
				return writeErr
			}
			indented.WriteByte('\n')
			_, writeErr := indented.WriteTo(command.OutOrStdout())
			return writeErr
		}),
	}
	command.Flags().String("data", "", "JSON request body")
	return command
}

func newWatchCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "watch",
		Short:   "Restore the stored session and clear it once the access token expires",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withSession(func(command *cobra.Command, arguments []string, current *session) error {
			interval, _ := command.Flags().GetDuration("interval")
			if interval <= 0 {
				return configError("config.invalid_interval", "interval must be greater than zero")
			}
			ctx, stop := signal.NotifyContext(commandContext(command), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			current.store.OnChange(func(state tokenstore.State) {
				current.logger.Info("session changed", zap.String("code", "storefront.cli.watch.changed"), zap.Bool("authenticated", state.Authenticated))
			})
			state, loadErr := current.store.Load(ctx)
			if loadErr != nil {
				return loadErr
			}
			if !state.Authenticated {
				return errNotLoggedIn
			}
			current.logger.Info("watching session",
				zap.String("code", "storefront.cli.watch.start"),
				zap.Int64("user_id", state.User.UserID),
				zap.Duration("interval", interval),
			)
			current.store.RunExpiryWatcher(ctx, interval)
			return nil
		}),
	}
	command.Flags().Duration("interval", 30*time.Second, "Expiry check interval")
	return command
}
