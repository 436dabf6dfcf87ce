package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitValidatesLevelAndFormat(t *testing.T) {
	_, err := Init("loud", "json")
	require.Error(t, err)

	_, err = Init("info", "xml")
	require.Error(t, err)

	l, err := Init("debug", "console")
	require.NoError(t, err)
	require.NotNil(t, l)
	require.Same(t, l, L())
}

func TestNamedCarriesComponent(t *testing.T) {
	_, err := Init("info", "json")
	require.NoError(t, err)
	require.NotNil(t, Named("api"))
}
