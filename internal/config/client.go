package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultServerURL is where snippetctl looks for the server when nothing else
// is configured.
const DefaultServerURL = "http://localhost:8080"

// Client is the configuration of cmd/snippetctl. Flags override it.
type Client struct {
	ServerURL string
	Token     string
}

// LoadClient reads SNIPPETVAULT_SERVER and SNIPPETVAULT_TOKEN, after a .env
// in the working directory if there is one.
func LoadClient() (Client, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Client{}, fmt.Errorf("config: reading .env: %w", err)
	}
	c := Client{ServerURL: DefaultServerURL}
	setString(&c.ServerURL, "SNIPPETVAULT_SERVER")
	setString(&c.Token, "SNIPPETVAULT_TOKEN")
	return c, nil
}

// Override replaces the fields for which a flag value was given.
func (c Client) Override(serverURL, token string) Client {
	if serverURL != "" {
		c.ServerURL = serverURL
	}
	if token != "" {
		c.Token = token
	}
	return c
}

// Validate checks the server URL is http(s) and that a token is set.
func (c Client) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: server URL %q must be http(s)://host[:port]", c.ServerURL)
	}
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("config: no token; set SNIPPETVAULT_TOKEN or pass --token (POST /api/tokens issues one)")
	}
	return nil
}
