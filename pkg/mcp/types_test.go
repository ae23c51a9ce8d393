package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentItem_TextRoundTrip(t *testing.T) {
	t.Parallel()
	item := TextItem("text/plain", "hello")

	data, err := json.Marshal(item)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text","mimeType":"text/plain","text":"hello"}`, string(data))

	var back ContentItem
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, item, back)
}

func TestContentItem_BinaryRoundTrip(t *testing.T) {
	t.Parallel()
	payload := []byte{0x00, 0xff, 0x10, 0x00} // embedded NULs must survive
	item := BinaryItem("application/octet-stream", payload)

	data, err := json.Marshal(item)
	require.NoError(t, err)

	var back ContentItem
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ContentBinary, back.Kind)
	assert.Equal(t, payload, back.Data)
}

func TestContentItem_CopyIsDeep(t *testing.T) {
	t.Parallel()
	orig := TextItem("", "abc")
	dup := orig.Copy()
	dup.Data[0] = 'x'
	assert.Equal(t, byte('a'), orig.Data[0], "copy must not share storage")
}

func TestCopyItems_DeepCopyThenSerializeRoundTrip(t *testing.T) {
	t.Parallel()
	items := []ContentItem{
		TextItem("text/plain", "a"),
		JSONItem([]byte(`{"k":1}`)),
		BinaryItem("image/png", []byte{1, 2, 3}),
	}

	copied := CopyItems(items)
	data, err := json.Marshal(copied)
	require.NoError(t, err)

	var back []ContentItem
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, items, back)
}

func TestTool_InputSchema(t *testing.T) {
	t.Parallel()
	tool := Tool{
		Name: "translate",
		Params: []ToolParam{
			{Name: "text", Type: "string", Required: true},
			{Name: "lang", Type: "string", Description: "target language"},
		},
	}

	schema := tool.InputSchema()
	require.NotNil(t, schema)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"text"}, schema["required"])

	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "text")
	assert.Contains(t, props, "lang")
}

func TestTool_InputSchemaEmpty(t *testing.T) {
	t.Parallel()
	tool := Tool{Name: "noop"}
	assert.Nil(t, tool.InputSchema())
}

func TestToResourceContents(t *testing.T) {
	t.Parallel()
	rc := TextItem("text/plain", "body").ToResourceContents("example://a")
	assert.Equal(t, "example://a", rc.URI)
	assert.Equal(t, "body", rc.Text)
	assert.Empty(t, rc.Base64)

	rc = BinaryItem("application/octet-stream", []byte{1}).ToResourceContents("example://b")
	assert.Empty(t, rc.Text)
	assert.NotEmpty(t, rc.Base64)
}

func TestMatchTemplate(t *testing.T) {
	t.Parallel()

	params, ok := MatchTemplate("weather://{city}/today", "weather://NYC/today")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"city": "NYC"}, params)

	params, ok = MatchTemplate("example://{id}", "example://123")
	require.True(t, ok)
	assert.Equal(t, "123", params["id"])

	_, ok = MatchTemplate("weather://{city}/today", "weather://NYC/tomorrow")
	assert.False(t, ok)

	_, ok = MatchTemplate("example://{id}", "example://")
	assert.False(t, ok, "empty placeholder value must not match")

	_, ok = MatchTemplate("plain://fixed", "plain://other")
	assert.False(t, ok)

	params, ok = MatchTemplate("plain://fixed", "plain://fixed")
	require.True(t, ok)
	assert.Empty(t, params)
}
