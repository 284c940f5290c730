// Package assist implements the assistant-flavor pipeline: a full-utterance
// transcript is classified into a device command, a sensor query, a music
// request, or free-form chat; the matching collaborator produces a short
// English reply which is then spoken back to the client.
package assist

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Intent is the tagged classification result. Exactly one branch matches per
// utterance, tried in order: device, sensor, music, free-form.
type Intent interface{ isIntent() }

// DeviceCommand switches room relays on or off.
type DeviceCommand struct {
	State string   `json:"state"` // "on" or "off"
	Rooms []string `json:"rooms"` // canonical room keys, utterance order
	All   bool     `json:"all"`
}

// SensorQuery asks for a climate reading.
type SensorQuery struct {
	Temperature bool `json:"temperature"`
	Humidity    bool `json:"humidity"`
}

// MusicRequest asks for a track to be played.
type MusicRequest struct {
	Query string `json:"query"`
}

// FreeForm falls through to the chat LLM.
type FreeForm struct{}

func (DeviceCommand) isIntent() {}
func (SensorQuery) isIntent()   {}
func (MusicRequest) isIntent()  {}
func (FreeForm) isIntent()      {}

// KnownRooms are the canonical room keys, in relay order.
var KnownRooms = []string{"living", "kitchen", "bed", "bathroom", "garden"}

// roomAliases maps canonical room keys to spoken variants. Aliases are
// matched against the normalized utterance; single-word aliases additionally
// get a fuzzy pass so "kitchin" still switches the kitchen.
var roomAliases = map[string][]string{
	"living":   {"living", "living room", "livingroom", "lounge"},
	"kitchen":  {"kitchen", "cook room", "cookroom"},
	"bed":      {"bed", "bedroom", "bed room", "sleep room", "sleeproom"},
	"bathroom": {"bathroom", "bath room", "restroom", "washroom", "toilet"},
	"garden":   {"garden", "yard", "backyard", "outside", "outdoor"},
}

// RoomLabels are the spoken English names used in replies.
var RoomLabels = map[string]string{
	"living":   "living room",
	"kitchen":  "kitchen",
	"bed":      "bedroom",
	"bathroom": "bathroom",
	"garden":   "garden",
}

var (
	onPattern        = regexp.MustCompile(`\b(turn on|switch on|enable|open|power on|turn up)\b`)
	offPattern       = regexp.MustCompile(`\b(turn off|switch off|disable|close|power off|shut off|turn down)\b`)
	allLightsPattern = regexp.MustCompile(`\b(all|every)\b(\s+the)?\s+(light|lights|lamp|lamps)\b`)
	tempPattern      = regexp.MustCompile(`\b(temperature|temp)\b|nhiet\s*do|bao\s*nhieu\s*do`)
	humidityPattern  = regexp.MustCompile(`\b(humidity|humid)\b|do\s*am`)
	musicPattern     = regexp.MustCompile(`\b(?:play|put on)\b\s*(?:some\s+|me\s+)?(.*)$`)
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeText lowercases, strips diacritics, and collapses whitespace so
// the keyword patterns work on both English and unaccented Vietnamese.
func normalizeText(s string) string {
	lowered := strings.ToLower(s)
	lowered = strings.ReplaceAll(lowered, "đ", "d")
	if out, _, err := transform.String(stripMarks, lowered); err == nil {
		lowered = out
	}
	return strings.Join(strings.Fields(lowered), " ")
}

// Classify maps an utterance to exactly one Intent.
func Classify(text string) Intent {
	normalized := normalizeText(text)
	if normalized == "" {
		return FreeForm{}
	}
	if cmd, ok := detectDeviceCommand(normalized); ok {
		return cmd
	}
	if q, ok := detectSensorQuery(normalized); ok {
		return q
	}
	if m, ok := detectMusicRequest(normalized); ok {
		return m
	}
	return FreeForm{}
}

func detectDeviceCommand(normalized string) (DeviceCommand, bool) {
	state := ""
	if onPattern.MatchString(normalized) {
		state = "on"
	}
	if offPattern.MatchString(normalized) {
		state = "off"
	}
	if state == "" {
		return DeviceCommand{}, false
	}

	if allLightsPattern.MatchString(normalized) {
		return DeviceCommand{State: state, Rooms: append([]string(nil), KnownRooms...), All: true}, true
	}

	rooms := extractRooms(normalized)
	if len(rooms) == 0 {
		return DeviceCommand{}, false
	}
	return DeviceCommand{State: state, Rooms: rooms}, true
}

// extractRooms returns the canonical keys of every room mentioned, ordered by
// first occurrence in the utterance.
func extractRooms(normalized string) []string {
	type hit struct {
		pos  int
		room string
	}
	var hits []hit
	for _, room := range KnownRooms {
		best := -1
		for _, alias := range roomAliases[room] {
			if pos := aliasIndex(normalized, alias); pos >= 0 && (best < 0 || pos < best) {
				best = pos
			}
		}
		if best < 0 {
			best = fuzzyAliasIndex(normalized, roomAliases[room])
		}
		if best >= 0 {
			hits = append(hits, hit{pos: best, room: room})
		}
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	rooms := make([]string, len(hits))
	for i, h := range hits {
		rooms[i] = h.room
	}
	return rooms
}

// aliasIndex finds alias as a whole-word match in text, with flexible
// whitespace between alias words. Returns -1 when absent.
func aliasIndex(text, alias string) int {
	pattern := `\b` + strings.ReplaceAll(regexp.QuoteMeta(alias), ` `, `\s+`) + `\b`
	loc := regexp.MustCompile(pattern).FindStringIndex(text)
	if loc == nil {
		return -1
	}
	return loc[0]
}

// fuzzyAliasIndex tolerates one edit against single-word aliases, so minor
// STT misspellings still resolve a room. Short aliases are excluded; one edit
// on "bed" matches too much.
func fuzzyAliasIndex(text string, aliases []string) int {
	pos := 0
	for _, token := range strings.Fields(text) {
		for _, alias := range aliases {
			if strings.Contains(alias, " ") || len(alias) < 5 {
				continue
			}
			if matchr.DamerauLevenshtein(token, alias) <= 1 {
				return pos
			}
		}
		pos += len(token) + 1
	}
	return -1
}

func detectSensorQuery(normalized string) (SensorQuery, bool) {
	q := SensorQuery{
		Temperature: tempPattern.MatchString(normalized),
		Humidity:    humidityPattern.MatchString(normalized),
	}
	return q, q.Temperature || q.Humidity
}

func detectMusicRequest(normalized string) (MusicRequest, bool) {
	m := musicPattern.FindStringSubmatch(normalized)
	if m == nil {
		return MusicRequest{}, false
	}
	query := strings.TrimSpace(m[1])
	query = strings.TrimSuffix(query, " for me")
	query = strings.TrimSuffix(query, " please")
	query = strings.TrimSpace(query)
	if query == "" || query == "music" || query == "a song" || query == "something" {
		query = "music"
	}
	return MusicRequest{Query: query}, true
}
