package services

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ParallelTimelines/internal/errors"
	"github.com/Corphon/ParallelTimelines/internal/models"
	"github.com/Corphon/ParallelTimelines/internal/story"
)

// newTestManager 使用可预测的ID
func newTestManager(t *testing.T, graph *story.Graph) *TimelineManager {
	t.Helper()
	if graph == nil {
		var err error
		graph, err = story.Default()
		require.NoError(t, err)
	}

	seq := 0
	m := &TimelineManager{
		graph: graph,
		newID: func() string {
			seq++
			return fmt.Sprintf("t%d", seq)
		},
	}
	m.ResetAll()
	return m
}

func mustLoad(t *testing.T, doc string) *story.Graph {
	t.Helper()
	g, err := story.Load(strings.NewReader(doc))
	require.NoError(t, err)
	return g
}

func ids(timelines []models.Timeline) []string {
	out := make([]string, len(timelines))
	for i, tl := range timelines {
		out[i] = tl.ID
	}
	return out
}

func TestNewTimelineManagerStartsAtRoot(t *testing.T) {
	m := newTestManager(t, nil)

	tls := m.Timelines()
	require.Len(t, tls, 1)
	assert.Equal(t, "start", tls[0].CurrentScenario)
	assert.Empty(t, tls[0].Path)
	assert.Equal(t, models.Palette[0], tls[0].Color)
}

func TestApplyChoiceForksAtStart(t *testing.T) {
	m := newTestManager(t, nil)

	result, err := m.ChooseIndex("t1", 0)
	require.NoError(t, err)
	require.NotNil(t, result.Forked)

	tls := m.Timelines()
	require.Len(t, tls, 2)

	assert.Equal(t, "t1", tls[0].ID)
	assert.Equal(t, []string{"Upload my consciousness"}, tls[0].Path)
	assert.Equal(t, "upload", tls[0].CurrentScenario)
	assert.Equal(t, models.Palette[0], tls[0].Color)

	assert.Equal(t, "t2", tls[1].ID)
	assert.Equal(t, []string{"Stay in my physical body"}, tls[1].Path)
	assert.Equal(t, "physical", tls[1].CurrentScenario)
	assert.Equal(t, models.Palette[1], tls[1].Color)
}

func TestForkInsertsAfterSourceAndCapsAtFour(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.ChooseIndex("t1", 0) // [t1@upload, t2@physical]
	require.NoError(t, err)
	_, err = m.ChooseIndex("t1", 0) // [t1@corporate, t3@rebellion, t2@physical]
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3", "t2"}, ids(m.Timelines()))

	tl, err := m.Timeline("t3")
	require.NoError(t, err)
	assert.Equal(t, "rebellion", tl.CurrentScenario)
	assert.Equal(t, models.Palette[2], tl.Color)
	assert.Equal(t, []string{"Upload my consciousness", "Join the rebellion to create open-source consciousness"}, tl.Path)

	// 3 < 4，仍会分裂
	_, err = m.ChooseIndex("t2", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3", "t2", "t4"}, ids(m.Timelines()))
	tl, err = m.Timeline("t4")
	require.NoError(t, err)
	assert.Equal(t, "modified", tl.CurrentScenario)
	assert.Equal(t, models.Palette[3], tl.Color)

	// 已满，不再分裂
	result, err := m.ChooseIndex("t3", 0)
	require.NoError(t, err)
	assert.Nil(t, result.Forked)
	assert.Equal(t, 4, m.Len())
	tl, err = m.Timeline("t3")
	require.NoError(t, err)
	assert.Equal(t, "glitches", tl.CurrentScenario)
}

func TestRoundTripToParadise(t *testing.T) {
	m := newTestManager(t, nil)

	for i := 0; i < 3; i++ {
		_, err := m.ChooseIndex("t1", 0)
		require.NoError(t, err)
	}

	tl, err := m.Timeline("t1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Upload my consciousness",
		"Accept corporate ownership for infinite possibilities",
		"Accept the ads and enjoy paradise",
	}, tl.Path)
	assert.Equal(t, "paradise", tl.CurrentScenario)

	node, err := m.CurrentNode("t1")
	require.NoError(t, err)
	outcome, ok := node.(*models.Outcome)
	require.True(t, ok)
	assert.Contains(t, outcome.Text, "infinite bliss")
}

func TestSingleChoiceNodeNeverForks(t *testing.T) {
	g := mustLoad(t, `
start:
  choices:
    - text: walk on
      next: end
end:
  outcome: done
`)
	m := newTestManager(t, g)

	result, err := m.ChooseIndex("t1", 0)
	require.NoError(t, err)
	assert.Nil(t, result.Forked)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, []string{"walk on"}, result.Timeline.Path)
}

func TestForkPicksFirstDifferentTextInAuthoredOrder(t *testing.T) {
	g := mustLoad(t, `
start:
  choices:
    - text: same
      next: a
    - text: same
      next: b
    - text: other
      next: c
a:
  outcome: A
b:
  outcome: B
c:
  outcome: C
`)
	m := newTestManager(t, g)
	result, err := m.ApplyChoice("t1", models.Choice{Text: "same", Next: "b"})
	require.NoError(t, err)
	require.NotNil(t, result.Forked)
	assert.Equal(t, "c", result.Forked.CurrentScenario)
	assert.Equal(t, []string{"other"}, result.Forked.Path)

	m = newTestManager(t, g)
	result, err = m.ApplyChoice("t1", models.Choice{Text: "other", Next: "c"})
	require.NoError(t, err)
	require.NotNil(t, result.Forked)
	assert.Equal(t, "a", result.Forked.CurrentScenario)
}

func TestAllChoicesSameTextDoesNotFork(t *testing.T) {
	g := mustLoad(t, `
start:
  choices:
    - text: same
      next: a
    - text: same
      next: b
a:
  outcome: A
b:
  outcome: B
`)
	m := newTestManager(t, g)
	result, err := m.ChooseIndex("t1", 1)
	require.NoError(t, err)
	assert.Nil(t, result.Forked)
	assert.Equal(t, "b", result.Timeline.CurrentScenario)
}

func TestApplyChoiceRejectsInvalidInput(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.ChooseIndex("missing", 0)
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Equal(t, CodeTimelineNotFound, apperrors.CodeOf(err))

	_, err = m.ApplyChoice("t1", models.Choice{Text: "Upload my consciousness", Next: "physical"})
	assert.True(t, apperrors.IsInvalidChoiceError(err))

	_, err = m.ChooseIndex("t1", 2)
	assert.True(t, apperrors.IsInvalidChoiceError(err))
	_, err = m.ChooseIndex("t1", -1)
	assert.True(t, apperrors.IsInvalidChoiceError(err))

	assert.Equal(t, 1, m.Len())
	tl, err := m.Timeline("t1")
	require.NoError(t, err)
	assert.Empty(t, tl.Path)
}

func TestApplyChoiceOnOutcomeIsInvalid(t *testing.T) {
	m := newTestManager(t, nil)
	for i := 0; i < 3; i++ {
		_, err := m.ChooseIndex("t1", 0)
		require.NoError(t, err)
	}
	before := m.Timelines()

	_, err := m.ChooseIndex("t1", 0)
	assert.True(t, apperrors.IsInvalidChoiceError(err))
	_, err = m.ApplyChoice("t1", models.Choice{Text: "anything", Next: "start"})
	assert.True(t, apperrors.IsInvalidChoiceError(err))

	assert.Equal(t, before, m.Timelines())
}

func TestResetTimelineOnSoleTimelineReinitializes(t *testing.T) {
	m := newTestManager(t, nil)

	require.NoError(t, m.ResetTimeline("t1"))

	tls := m.Timelines()
	require.Len(t, tls, 1)
	assert.Equal(t, "t2", tls[0].ID)
	assert.Equal(t, "start", tls[0].CurrentScenario)
	assert.Empty(t, tls[0].Path)
	assert.Equal(t, models.Palette[0], tls[0].Color)
}

func TestResetTimelineKeepsOthersInOrder(t *testing.T) {
	m := newTestManager(t, nil)
	_, _ = m.ChooseIndex("t1", 0)
	_, _ = m.ChooseIndex("t1", 0)
	_, _ = m.ChooseIndex("t2", 0)
	require.Equal(t, []string{"t1", "t3", "t2", "t4"}, ids(m.Timelines()))
	t2Before, _ := m.Timeline("t2")

	require.NoError(t, m.ResetTimeline("t3"))
	assert.Equal(t, []string{"t1", "t2", "t4"}, ids(m.Timelines()))

	t2After, err := m.Timeline("t2")
	require.NoError(t, err)
	assert.Equal(t, t2Before, t2After)

	// 两条中移除一条不会回到根节点
	require.NoError(t, m.ResetTimeline("t1"))
	require.NoError(t, m.ResetTimeline("t4"))
	assert.Equal(t, []string{"t2"}, ids(m.Timelines()))
	assert.Equal(t, "modified", m.Timelines()[0].CurrentScenario)

	err = m.ResetTimeline("t1")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestResetAllFromAnySize(t *testing.T) {
	for _, steps := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("after_%d_choices", steps), func(t *testing.T) {
			m := newTestManager(t, nil)
			for i := 0; i < steps; i++ {
				first := m.Timelines()[0]
				_, err := m.ChooseIndex(first.ID, 0)
				require.NoError(t, err)
			}

			m.ResetAll()

			tls := m.Timelines()
			require.Len(t, tls, 1)
			assert.Equal(t, "start", tls[0].CurrentScenario)
			assert.Empty(t, tls[0].Path)
			assert.Equal(t, models.Palette[0], tls[0].Color)
		})
	}
}

func TestTimelinesReturnsCopies(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.ChooseIndex("t1", 0)
	require.NoError(t, err)

	tls := m.Timelines()
	tls[0].Path[0] = "tampered"
	tls[0].CurrentScenario = "paradise"

	tl, err := m.Timeline("t1")
	require.NoError(t, err)
	assert.Equal(t, "Upload my consciousness", tl.Path[0])
	assert.Equal(t, "upload", tl.CurrentScenario)
}
