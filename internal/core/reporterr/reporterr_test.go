package reporterr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transport("site-analytics", cause)

	require.Equal(t, KindTransport, err.Kind)
	require.Equal(t, "transport_error: report site-analytics: connection refused", err.Error())
	require.ErrorIs(t, err, cause)
}

func TestRunError_NoReport(t *testing.T) {
	err := &RunError{Kind: KindConfig, Err: errors.New("bad months")}
	require.Equal(t, "config_error: bad months", err.Error())
}

func TestConstructors(t *testing.T) {
	cause := errors.New("x")
	require.Equal(t, KindSnapshot, Snapshot("r", cause).Kind)
	require.Equal(t, KindOutput, Output("r", cause).Kind)
	require.Equal(t, "r", Output("r", cause).Report)
}
