package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeverityBand(t *testing.T) {
	cases := map[int]string{
		0:  SeverityMinimal,
		4:  SeverityMinimal,
		5:  SeverityMild,
		9:  SeverityMild,
		10: SeverityModerate,
		14: SeverityModerate,
		15: SeverityModeratelySevere,
		19: SeverityModeratelySevere,
		20: SeveritySevere,
		27: SeveritySevere,
	}
	for score, want := range cases {
		require.Equal(t, want, SeverityBand(score), "score %d", score)
	}
}
