package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Credentials are the venue API keys. They are read from the environment
// only (BINANCE_API_KEY / BINANCE_API_SECRET), never from the config file.
type Credentials struct {
	APIKey    string
	APISecret string
}

// LoadCredentials reads credentials from the environment via viper.
func LoadCredentials() (Credentials, error) {
	v := viper.New()
	v.SetEnvPrefix("binance")
	v.AutomaticEnv()
	_ = v.BindEnv("api_key")
	_ = v.BindEnv("api_secret")

	c := Credentials{
		APIKey:    v.GetString("api_key"),
		APISecret: v.GetString("api_secret"),
	}
	if c.APIKey == "" || c.APISecret == "" {
		return Credentials{}, fmt.Errorf("missing BINANCE_API_KEY / BINANCE_API_SECRET")
	}
	return c, nil
}
