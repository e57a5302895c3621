package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// The golden runs pin the full wire output of every built-in page: the
// shell markup, the record stream, and the settled fragments. The async
// pages settle their own gates, so stream-mode output is as replayable
// as sync. Regenerate after intentional format changes with:
//
//	go test ./internal/harness -update
func TestGoldenScenarios(t *testing.T) {
	scenarios := []*Scenario{
		{Name: "hello", Page: "hello"},
		{Name: "hello_async_sync", Page: "hello_async"},
		{Name: "hello_async_stream", Page: "hello_async", Mode: ModeStream},
		{Name: "parallel_reject_sync", Page: "parallel_reject"},
		{Name: "parallel_reject_stream", Page: "parallel_reject", Mode: ModeStream},
		{Name: "gated_detail_stream", Page: "gated_detail", Mode: ModeStream},
		{Name: "projection_feed_stream", Page: "projection_feed", Mode: ModeStream},
		{Name: "boundary_error", Page: "boundary_error"},
		{Name: "snapshot_writes", Page: "snapshot_writes"},
		{Name: "kitchen_sink", Page: "kitchen_sink"},
	}
	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			_, err := RunWithGolden(t, s)
			require.NoError(t, err)
		})
	}
}

// Two runs of the same scenario must produce identical wire output; the
// replay journal depends on it.
func TestScenarioRunsAreDeterministic(t *testing.T) {
	for _, s := range []*Scenario{
		{Name: "repeat_gated", Page: "gated_detail", Mode: ModeStream},
		{Name: "repeat_feed", Page: "projection_feed", Mode: ModeStream},
	} {
		t.Run(s.Name, func(t *testing.T) {
			first, err := Run(s)
			require.NoError(t, err)
			second, err := Run(s)
			require.NoError(t, err)

			require.Equal(t, first.HTML, second.HTML)
			require.Equal(t, len(first.Records), len(second.Records))
			for i := range first.Records {
				require.Equal(t, first.Records[i], second.Records[i])
			}
			require.Equal(t, first.Fragments, second.Fragments)
		})
	}
}
