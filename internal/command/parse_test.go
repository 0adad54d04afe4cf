package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		transcript string
		want       Command
	}{
		{"What's my balance?", Command{Kind: KindBalance}},
		{"balance", Command{Kind: KindBalance}},
		{"how much XRP do I have", Command{Kind: KindBalance}},
		{"Send 5 XRP to Alice.", Command{Kind: KindSend, AmountDrops: 5_000_000, Recipient: "alice"}},
		{"pay bob 2.5", Command{Kind: KindSend, AmountDrops: 2_500_000, Recipient: "bob"}},
		{"send two to bob", Command{Kind: KindSend, AmountDrops: 2_000_000, Recipient: "bob"}},
		{"please transfer twenty five xrp to Bob Jr", Command{Kind: KindSend, AmountDrops: 25_000_000, Recipient: "bob jr"}},
		{"give a hundred and five ripple to carol", Command{Kind: KindSend, AmountDrops: 105_000_000, Recipient: "carol"}},
		{"pay dave one point five xrp", Command{Kind: KindSend, AmountDrops: 1_500_000, Recipient: "dave"}},
		{"send 0.000001 to rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", Command{Kind: KindSend, AmountDrops: 1, Recipient: "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"}},
		{"show my transactions", Command{Kind: KindHistory}},
		{"recent history", Command{Kind: KindHistory}},
		{"list friends", Command{Kind: KindFriends}},
		{"my tickets", Command{Kind: KindTickets}},
	}

	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			got, err := Parse(tt.transcript)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseUnrecognized(t *testing.T) {
	for _, transcript := range []string{
		"",
		"   ",
		"hello there",
		"send to bob",
		"send 5 xrp to",
		"pay bob",
		"send zero to bob",
		"send 1.0000001 to bob",
	} {
		_, err := Parse(transcript)
		assert.ErrorIs(t, err, ErrUnrecognized, transcript)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		words []string
		drops int64
		ok    bool
	}{
		{[]string{"7"}, 7_000_000, true},
		{[]string{"twelve"}, 12_000_000, true},
		{[]string{"one", "thousand", "two", "hundred"}, 1_200_000_000, true},
		{[]string{"zero", "point", "two", "five"}, 250_000, true},
		{[]string{"three", "point", "1", "4"}, 3_140_000, true},
		{[]string{"point", "five"}, 0, false},
		{[]string{"lots"}, 0, false},
		{[]string{"a"}, 0, false},
		{[]string{"9223372036854775807", "thousand"}, 0, false},
		{[]string{"9223372037", "thousand"}, 0, false},
		{[]string{"9223372036", "hundred", "hundred"}, 0, false},
		{[]string{"9223372036853", "one"}, 0, false},
		{[]string{"nine", "thousand", "9223372036853"}, 0, false},
	}

	for _, tt := range tests {
		drops, ok := parseAmount(tt.words)
		assert.Equal(t, tt.ok, ok, tt.words)
		assert.Equal(t, tt.drops, drops, tt.words)
	}
}
