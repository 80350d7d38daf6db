package features

import (
	"math"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bluesky-social/botdetect/profile"
)

const secondsPerDay = 86400

// Computes feature vectors from profile records.
//
// The zero value is ready to use, and reads the wall clock for missing timestamps.
type Extractor struct {
	// clock used as the default for missing timestamps. nil means [time.Now]
	Now func() time.Time
}

// Extracts the feature vector using the wall clock for missing timestamps.
func Extract(rec *profile.Record) Vector {
	var ex Extractor
	return ex.Extract(rec)
}

func (ex *Extractor) now() time.Time {
	if ex.Now != nil {
		return ex.Now()
	}
	return time.Now()
}

// Maps a record to its feature vector. This never fails: records are validated when decoded, and all divisions are guarded.
//
// The "+1" ratio denominators and the log-product network score are what the trained model expects as input; they are not approximations.
func (ex *Extractor) Extract(rec *profile.Record) Vector {
	now := ex.now()

	// if either timestamp is missing, both default to the same instant, so age is zero
	created, last := now, now
	if rec.CreatedAt != nil && rec.LastActivityAt != nil {
		created, last = *rec.CreatedAt, *rec.LastActivityAt
	}
	ageDays := last.Sub(created).Seconds() / secondsPerDay

	creationHour := now.Hour()
	if rec.CreatedAt != nil {
		creationHour = rec.CreatedAt.Hour()
	}

	statuses := rec.StatusesCount
	followers := rec.FollowersCount
	friends := rec.FriendsCount

	var v Vector
	v[AccountAgeDays] = float32(ageDays)
	v[StatusesCount] = float32(statuses)
	v[FollowersCount] = float32(followers)
	v[FriendsCount] = float32(friends)
	v[ListedCount] = float32(rec.ListedCount)
	v[Verified] = flag(rec.Verified)
	v[FollowersFriendsRatio] = float32(followers / (friends + 1))
	v[StatusesFollowersRatio] = float32(statuses / (followers + 1))
	v[ScreenNameLength] = float32(utf8.RuneCountInString(rec.ScreenName))
	v[DigitsInScreenName] = float32(countNumeric(rec.ScreenName))
	v[NameLength] = float32(utf8.RuneCountInString(rec.Name))
	v[DigitsInName] = float32(countNumeric(rec.Name))
	v[DescriptionLength] = float32(utf8.RuneCountInString(rec.Description))
	v[HasDescriptionURL] = flag(rec.HasDescriptionLinks)
	v[HasLocation] = flag(rec.HasLocation)
	v[CreationHour] = float32(creationHour)
	v[NetworkScore] = float32(math.Log(1+statuses) * math.Log(1+followers))
	return v
}

func flag(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// Han numerals are letters (Lo), but carry a unicode numeric value
var hanNumerals = map[rune]bool{
	'零': true, '一': true, '二': true, '三': true, '四': true,
	'五': true, '六': true, '七': true, '八': true, '九': true,
	'十': true, '百': true, '千': true, '万': true, '萬': true,
	'億': true, '兆': true,
}

func isNumeric(r rune) bool {
	return unicode.IsNumber(r) || hanNumerals[r]
}

// counts numeric characters (any unicode number category or Han numeral, not only ASCII digits)
func countNumeric(s string) int {
	n := 0
	for _, r := range s {
		if isNumeric(r) {
			n++
		}
	}
	return n
}
