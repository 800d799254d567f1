package logs

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	require.NoError(t, SetLevel("warn"))
	defer SetLevel("info")

	Info("[VM] hidden %d", 1)
	Debug("[VM] hidden too")
	assert.Empty(t, buf.String())

	Warn("[VM] shown %s", "yes")
	assert.Contains(t, buf.String(), "[VM] shown yes")

	Error("[VM] boom")
	assert.Contains(t, buf.String(), "boom")
}

func TestParseLevel(t *testing.T) {
	lv, err := ParseLevel("TRACE")
	require.NoError(t, err)
	assert.Equal(t, LevelTrace, lv)

	lv, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelInfo, lv)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestVerboseTagged(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(io.Discard)
	require.NoError(t, SetLevel("verbose"))
	defer SetLevel("info")

	Verbose("replay %s", "ok")
	assert.Contains(t, buf.String(), "verbose")
	assert.Contains(t, buf.String(), "replay ok")
}

func TestNodeTag(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(io.Discard)
	SetNodeTag("node-a")
	defer SetNodeTag("")

	Info("[Chain] hello")
	assert.Contains(t, buf.String(), `"node":"node-a"`)
}
