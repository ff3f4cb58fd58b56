package ir

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityJSONFieldNaming(t *testing.T) {
	valid := true
	e := Entity{
		ID:              "e1",
		Type:            "Article",
		Name:            "Hello",
		AuthKey:         "none",
		ResolvedAuthKey: "none",
		Status:          StatusPublished,
		Version:         2,
		ValidLatest:     true,
		ValidPublished:  &valid,
		CreatedAt:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "authKey")
	assert.Contains(t, raw, "validLatest")
	assert.Contains(t, raw, "validPublished")
	assert.NotContains(t, raw, "ResolvedAuthKey")
	assert.Equal(t, "published", raw["status"])
}

func TestSyncEventRoundTrip(t *testing.T) {
	ev := SyncEvent{
		ID:        "ev1",
		Type:      EventCreateEntity,
		CreatedBy: "subject-1",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload: SyncPayload{
			Entity: &SyncEntity{
				ID:            "e1",
				Type:          "Article",
				Name:          "Hello",
				AuthKey:       "none",
				Version:       1,
				SchemaVersion: 3,
				Fields:        Object{"title": String("Hello")},
			},
			Publish: true,
		},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded SyncEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ev.Type, decoded.Type)
	require.NotNil(t, decoded.Payload.Entity)
	assert.Equal(t, 3, decoded.Payload.Entity.SchemaVersion)
	assert.True(t, Equal(ev.Payload.Entity.Fields, decoded.Payload.Entity.Fields))
	assert.True(t, decoded.Payload.Publish)
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("update entity: %w", NewConflict("version mismatch").With("entityId", "e1"))

	assert.Equal(t, ErrConflict, KindOf(err))
	assert.True(t, IsKind(err, ErrConflict))
	assert.False(t, IsKind(err, ErrNotFound))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, ErrGeneric, KindOf(errors.New("boom")))

	e := AsError(err)
	require.NotNil(t, e)
	assert.Equal(t, "e1", e.Details["entityId"])
}

func TestErrorMessageIncludesIssues(t *testing.T) {
	err := NewValidationFailed("entity is invalid", []ValidationIssue{
		{Path: Path{"title"}, Message: "value is required", Severity: SeverityPublish},
	})

	assert.Equal(t, "BadRequest: entity is invalid\n  title: value is required (publish)", err.Error())
}

func TestGenericErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := NewGeneric(cause, "write entity")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Generic: write entity: disk full", err.Error())
}

func TestPathString(t *testing.T) {
	assert.Equal(t, "<root>", Path{}.String())
	assert.Equal(t, "body.root.children[0].text", Path{"body", "root", "children", 0, "text"}.String())

	base := Path{"list"}
	a := base.Index(0)
	b := base.Index(1)
	assert.Equal(t, "list[0]", a.String())
	assert.Equal(t, "list[1]", b.String())
	assert.Equal(t, "list", base.String())
}

func TestRichTextNodeText(t *testing.T) {
	n := RichTextNode{Type: RichTextNodeText, Attrs: Object{"text": String("hi")}}
	assert.Equal(t, "hi", n.Text())
	assert.Equal(t, "", RichTextNode{Type: RichTextNodeParagraph}.Text())
}

func TestNewConnection(t *testing.T) {
	node := func(i int) int { return i }
	cursor := func(i int) (string, error) { return fmt.Sprintf("c%d", i), nil }

	// Forward: one lookahead row means another page follows.
	conn, err := NewConnection([]int{1, 2, 3}, 2, false, node, cursor)
	require.NoError(t, err)
	require.Len(t, conn.Edges, 2)
	assert.Equal(t, 1, conn.Edges[0].Node)
	assert.Equal(t, PageInfo{HasNextPage: true, StartCursor: "c1", EndCursor: "c2"}, conn.PageInfo)

	// Backward: rows arrive in scan order and are re-reversed.
	conn, err = NewConnection([]int{9, 8, 7}, 2, true, node, cursor)
	require.NoError(t, err)
	assert.Equal(t, []Edge[int]{{Cursor: "c8", Node: 8}, {Cursor: "c9", Node: 9}}, conn.Edges)
	assert.Equal(t, PageInfo{HasPreviousPage: true, StartCursor: "c8", EndCursor: "c9"}, conn.PageInfo)

	// Empty page.
	conn, err = NewConnection([]int{}, 2, false, node, cursor)
	require.NoError(t, err)
	assert.Empty(t, conn.Edges)
	assert.Equal(t, PageInfo{}, conn.PageInfo)
}

func TestNewConnection_CursorError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewConnection([]int{1}, 1, false,
		func(i int) int { return i },
		func(int) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
}
