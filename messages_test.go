package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeListDecodesLeniently(t *testing.T) {
	cases := []struct {
		in   string
		want TypeList
	}{
		{`[0, 3, 8]`, TypeList{0, 3, 8}},
		{`["3", " 4 ", 5]`, TypeList{3, 4, 5}},
		{`["x", null, true, {}, 2]`, TypeList{2}},
		{`[-1, 9, 2.5, "1e9", "NaN", 1]`, TypeList{1}},
		{`[]`, TypeList{}},
	}

	for _, tc := range cases {
		var got TypeList
		require.NoError(t, json.Unmarshal([]byte(tc.in), &got), tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestClientMessageWithStringTypes(t *testing.T) {
	var msg ClientMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"give_to_active","roomId":"ABCDEF","types":["3",7]}`), &msg))

	assert.Equal(t, msgGiveToActive, msg.Type)
	assert.Equal(t, TypeList{3, 7}, msg.Types)
}

func TestTypeListRejectsNonArray(t *testing.T) {
	var got TypeList
	assert.Error(t, json.Unmarshal([]byte(`"3"`), &got))
}
