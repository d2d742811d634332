package workflows

import (
	"testing"

	"github.com/hypernova-labs/fiscal-service/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Inngest: config.InngestConfig{
			EventKey:   "test-event-key",
			SigningKey: "signkey-test-0000",
			AppID:      "fiscal-service-test",
		},
	}
}

func TestNewInngestClientRequiresKeys(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := testConfig()
	cfg.Inngest.EventKey = ""
	_, err := NewInngestClient(cfg, logger)
	require.Error(t, err)

	cfg = testConfig()
	cfg.Inngest.SigningKey = ""
	_, err = NewInngestClient(cfg, logger)
	require.Error(t, err)
}

func TestRegisterWorkflowsRegistersReconcileFunction(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	client, err := NewInngestClient(testConfig(), logger)
	require.NoError(t, err)

	require.NoError(t, client.RegisterWorkflows(nil))

	// El workflow queda construido y el handler listo para montarse
	assert.NotNil(t, client.reconcile)
	assert.NotNil(t, client.Serve())
}
