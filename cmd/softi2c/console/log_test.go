package console

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	SetOutput(&out, &errOut)
	defer SetOutput(os.Stdout, os.Stderr)

	Infof("bus %s recovered", "pressure")
	Warn("slow step")
	Debug("hidden")
	assert.Contains(t, out.String(), "bus pressure recovered")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, errOut.String(), "slow step")
	assert.Contains(t, Format(errors.New("NACK received")), "NACK received")

	out.Reset()
	require.NoError(t, YAML(struct {
		Cycles int `yaml:"cycles"`
	}{Cycles: 3}))
	assert.Equal(t, "cycles: 3\n", out.String())
}
