package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_ToleratesMissingFile(t *testing.T) {
	viper.Reset()
	configFile = ""
	assert.NoError(t, loadConfig())
}

func TestLoadConfig_ExplicitMissingFileIsAnError(t *testing.T) {
	viper.Reset()
	configFile = "/nonexistent/path/tinychain.yaml"
	defer func() { configFile = "" }()
	assert.Error(t, loadConfig())
}

func TestServeCmd_RegistersExpectedFlags(t *testing.T) {
	cmd := serveCmd()
	for _, name := range []string{"listen", "peers", "metrics-listen", "mine"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "expected flag %q to be registered", name)
	}
}

func TestBalanceCmd_RequiresAddressFlag(t *testing.T) {
	cmd := balanceCmd()
	assert.NotNil(t, cmd.Flags().Lookup("address"))
	assert.NotNil(t, cmd.Flags().Lookup("node"))
	assert.Equal(t, []string{"true"}, cmd.Flags().Lookup("address").Annotations[cobra.BashCompOneRequiredFlag])
}

func TestSendCmd_RequiresAddressAndAmountFlags(t *testing.T) {
	cmd := sendCmd()
	assert.NotNil(t, cmd.Flags().Lookup("address"))
	assert.NotNil(t, cmd.Flags().Lookup("amount"))
	assert.Equal(t, []string{"true"}, cmd.Flags().Lookup("address").Annotations[cobra.BashCompOneRequiredFlag])
	assert.Equal(t, []string{"true"}, cmd.Flags().Lookup("amount").Annotations[cobra.BashCompOneRequiredFlag])
}
