package label

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/botlabel/internal/store"
)

func TestParseAnswer(t *testing.T) {
	cases := map[string]store.Label{
		"Yes":   store.LabelBot,
		" yes ": store.LabelBot,
		"No":    store.LabelNotBot,
		"NO":    store.LabelNotBot,
	}
	for in, want := range cases {
		got, err := ParseAnswer(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAnswer("bot")
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate([]Annotation{{UserID: "a", ClusterID: 1, Label: "No"}}))
	assert.Error(t, Validate([]Annotation{{UserID: " ", ClusterID: 1, Label: "No"}}))
	assert.ErrorIs(t, Validate([]Annotation{{UserID: "a", Label: ""}}), ErrInvalidLabel)
}

func TestParseCSV(t *testing.T) {
	in := "label,user_id,cluster_id,notes\n" +
		"Yes,alice,0,looks automated\n" +
		"No, bob ,3,\n"
	anns, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Annotation{
		{UserID: "alice", ClusterID: 0, Label: "Yes"},
		{UserID: "bob", ClusterID: 3, Label: "No"},
	}, anns)
}

func TestParseCSV_BOMHeader(t *testing.T) {
	anns, err := ParseCSV(strings.NewReader("\ufeffuser_id,cluster_id,label\nx,1,No\n"))
	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.Equal(t, "x", anns[0].UserID)
}

func TestParseCSV_Errors(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("user_id,label\nx,Yes\n"))
	assert.ErrorContains(t, err, "cluster_id")

	_, err = ParseCSV(strings.NewReader("user_id,cluster_id,label\nx,one,Yes\n"))
	assert.ErrorContains(t, err, "line 2")

	anns, err := ParseCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, anns)
}

func TestParseJSON(t *testing.T) {
	anns, err := ParseJSON(strings.NewReader(`[{"user_id":"a","cluster_id":4,"label":"Yes"}]`))
	require.NoError(t, err)
	assert.Equal(t, []Annotation{{UserID: "a", ClusterID: 4, Label: "Yes"}}, anns)

	_, err = ParseJSON(strings.NewReader(`{"user_id":`))
	assert.Error(t, err)

	anns, err = ParseJSON(strings.NewReader("[{\"user_id\":\"a\",\"cluster_id\":0,\"label\":\"Yes\"}]\n\n"))
	require.NoError(t, err, "trailing whitespace is fine")
	assert.Len(t, anns, 1)

	anns, err = ParseJSON(strings.NewReader(`[{"user_id":"a","cluster_id":0,"label":"Yes"}] [{"user_id":"b","cluster_id":0,"label":"No"}]`))
	assert.ErrorContains(t, err, "unexpected data after the array")
	assert.Nil(t, anns)
}
