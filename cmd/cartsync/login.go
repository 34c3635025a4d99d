package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the storefront",
	Long: `Login authenticates with the storefront and keeps the session for later
commands. Items added as a guest are moved into your account cart.`,
	Example: `  cartsync login --email ada@example.com
  CARTSYNC_AUTH_PASSWORD=secret cartsync login -e ada@example.com`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and forget the local cart",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in customer",
	RunE:  runWhoami,
}

var (
	loginEmail    string
	loginPassword string
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)

	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "",
		"Email address (default: auth.email from config)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "",
		"Password (will prompt if not provided)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if loginEmail == "" {
		loginEmail = cfg.Auth.Email
	}
	if loginEmail == "" {
		return fmt.Errorf("--email is required")
	}

	if loginPassword == "" {
		loginPassword = cfg.Auth.Password
	}
	if loginPassword == "" {
		var err error
		loginPassword, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	token, err := apiClient.Auth.Login(ctx, loginEmail, loginPassword)
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		} else {
			printError("Login failed: %v", err)
		}
		return err
	}

	st := apiClient.Cart.State()
	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":    true,
			"email":      token.User.Email,
			"customerId": token.User.ID,
			"expiresAt":  token.ExpiresAt,
			"cartItems":  st.ItemCount(),
		})
		return nil
	}

	printSuccess("Logged in as %s", token.User.Email)
	if !st.IsEmpty() {
		printInfo("Your cart has %d item(s)", st.ItemCount())
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if !apiClient.Auth.IsAuthenticated() {
		if !jsonOutput {
			printInfo("Not logged in")
		}
		return nil
	}

	if err := apiClient.Auth.Logout(cmd.Context()); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
	} else {
		printSuccess("Logged out")
	}
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	token, err := apiClient.Auth.GetToken()
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{"authenticated": false})
		} else {
			printInfo("Browsing as guest")
		}
		return nil
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"authenticated": true,
			"customerId":    token.User.ID,
			"email":         token.User.Email,
			"expiresAt":     token.ExpiresAt,
		})
		return nil
	}

	name := token.User.Email
	if token.User.Name != "" {
		name = fmt.Sprintf("%s <%s>", token.User.Name, token.User.Email)
	}
	printInfo("Logged in as %s (session expires %s)", name, token.ExpiresAt.Local().Format("Jan 2 15:04"))
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}

	return string(password), nil
}
