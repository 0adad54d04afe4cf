// Package command turns a finalized voice transcript into a wallet command.
package command

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/IlyasAtabaev731/voice-wallet/internal/ledger"
)

var ErrUnrecognized = errors.New("command not recognized")

type Kind string

const (
	KindBalance Kind = "balance"
	KindSend    Kind = "send"
	KindHistory Kind = "history"
	KindFriends Kind = "friends"
	KindTickets Kind = "tickets"
)

type Command struct {
	Kind        Kind
	AmountDrops int64
	// Recipient is a friend nickname or a ledger address as spoken.
	Recipient string
}

var (
	sendVerbRe  = regexp.MustCompile(`(?i)^(?:please\s+|can you\s+|could you\s+)?(?:send|pay|transfer|give)\s+(.+)$`)
	balanceRe   = regexp.MustCompile(`(?i)\bbalance\b|\bhow much (?:xrp|money|do i have)\b`)
	historyRe   = regexp.MustCompile(`(?i)\b(?:history|transactions?|activity|payments)\b`)
	friendsRe   = regexp.MustCompile(`(?i)\b(?:friends?|contacts?)\b`)
	ticketsRe   = regexp.MustCompile(`(?i)\btickets?\b`)
	decimalRe   = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
	addressRe   = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)
	trailPunct  = ".,!?;:"
	currencySet = map[string]bool{"xrp": true, "ripple": true, "ripples": true, "xrps": true}
)

// Parse recognizes a command in transcript. Matching is case-insensitive;
// the case of a spoken address is kept.
func Parse(transcript string) (Command, error) {
	text := strings.Join(strings.Fields(strings.TrimRight(strings.TrimSpace(transcript), trailPunct)), " ")
	if text == "" {
		return Command{}, ErrUnrecognized
	}

	if m := sendVerbRe.FindStringSubmatch(text); m != nil {
		return parseSend(strings.Fields(m[1]))
	}

	switch {
	case balanceRe.MatchString(text):
		return Command{Kind: KindBalance}, nil
	case historyRe.MatchString(text):
		return Command{Kind: KindHistory}, nil
	case friendsRe.MatchString(text):
		return Command{Kind: KindFriends}, nil
	case ticketsRe.MatchString(text):
		return Command{Kind: KindTickets}, nil
	}

	return Command{}, ErrUnrecognized
}

// parseSend handles "<amount> [xrp] to <recipient>" and "<recipient> <amount> [xrp]".
func parseSend(words []string) (Command, error) {
	for i, w := range words {
		if !strings.EqualFold(w, "to") || i == 0 || i == len(words)-1 {
			continue
		}
		drops, ok := parseAmount(stripCurrency(words[:i]))
		if !ok {
			continue
		}
		return send(drops, words[i+1:])
	}

	rest := stripCurrency(words)
	for i := 1; i < len(rest); i++ {
		if drops, ok := parseAmount(rest[i:]); ok {
			return send(drops, rest[:i])
		}
	}

	return Command{}, ErrUnrecognized
}

func send(drops int64, recipient []string) (Command, error) {
	to := strings.Trim(strings.Join(recipient, " "), trailPunct)
	if drops <= 0 || to == "" {
		return Command{}, ErrUnrecognized
	}
	if !addressRe.MatchString(to) {
		to = strings.ToLower(to)
	}
	return Command{Kind: KindSend, AmountDrops: drops, Recipient: to}, nil
}

func stripCurrency(words []string) []string {
	end := len(words)
	for end > 0 && currencySet[strings.ToLower(words[end-1])] {
		end--
	}
	return words[:end]
}

var smallNumbers = map[string]int64{
	"zero": 0, "oh": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// maxWholeXRP is the largest whole XRP amount whose drops fit in an int64.
const maxWholeXRP = math.MaxInt64 / ledger.DropsPerXRP

// parseAmount reads a spoken XRP amount ("2.5", "twenty five",
// "one point five", "a hundred") and returns it in drops.
func parseAmount(words []string) (int64, bool) {
	if len(words) == 0 {
		return 0, false
	}

	if len(words) == 1 && decimalRe.MatchString(words[0]) {
		drops, err := ledger.XRPToDrops(words[0])
		return drops, err == nil
	}

	var (
		total, current int64
		seen           bool
		frac           strings.Builder
	)

	for i := 0; i < len(words); i++ {
		w := strings.ToLower(words[i])

		switch {
		case w == "point":
			if !seen || i == len(words)-1 {
				return 0, false
			}
			for _, d := range words[i+1:] {
				digit, ok := digitWord(strings.ToLower(d))
				if !ok {
					return 0, false
				}
				frac.WriteString(digit)
			}
			i = len(words)
		case w == "and":
			if !seen {
				return 0, false
			}
		case w == "a" || w == "an":
			if i == len(words)-1 {
				return 0, false
			}
			if current >= maxWholeXRP {
				return 0, false
			}
			current++
		case w == "hundred":
			if current == 0 {
				current = 1
			}
			if current > maxWholeXRP/100 {
				return 0, false
			}
			current *= 100
			seen = true
		case w == "thousand":
			if current == 0 {
				current = 1
			}
			if current > maxWholeXRP/1000 || total > maxWholeXRP-current*1000 {
				return 0, false
			}
			total += current * 1000
			current = 0
			seen = true
		default:
			n, ok := smallNumbers[w]
			if !ok {
				v, err := strconv.ParseInt(w, 10, 64)
				if err != nil || v < 0 {
					return 0, false
				}
				n = v
			}
			if n > maxWholeXRP-current {
				return 0, false
			}
			current += n
			seen = true
		}
	}

	if !seen {
		return 0, false
	}

	if current > maxWholeXRP-total {
		return 0, false
	}

	xrp := strconv.FormatInt(total+current, 10)
	if frac.Len() > 0 {
		xrp += "." + frac.String()
	}

	drops, err := ledger.XRPToDrops(xrp)
	return drops, err == nil
}

func digitWord(w string) (string, bool) {
	if len(w) == 1 && w[0] >= '0' && w[0] <= '9' {
		return w, true
	}
	if v, ok := smallNumbers[w]; ok && v < 10 {
		return strconv.FormatInt(v, 10), true
	}
	return "", false
}
