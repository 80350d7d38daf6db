package features

import (
	"math"
)

const NumFeatures = 17

// Fixed-order feature vector for one account. The layout must match the input layout the classifier was trained on; see [Names].
type Vector [NumFeatures]float32

// positions within a [Vector]
const (
	AccountAgeDays = iota
	StatusesCount
	FollowersCount
	FriendsCount
	ListedCount
	Verified
	FollowersFriendsRatio
	StatusesFollowersRatio
	ScreenNameLength
	DigitsInScreenName
	NameLength
	DigitsInName
	DescriptionLength
	HasDescriptionURL
	HasLocation
	CreationHour
	NetworkScore
)

var Names = [NumFeatures]string{
	"account_age_days",
	"statuses_count",
	"followers_count",
	"friends_count",
	"listed_count",
	"verified",
	"followers_friends_ratio",
	"statuses_followers_ratio",
	"screen_name_length",
	"digits_in_screen_name",
	"name_length",
	"digits_in_name",
	"description_length",
	"has_description_url",
	"has_location",
	"creation_hour",
	"network_score",
}

type Field struct {
	Name  string  `json:"name"`
	Value float32 `json:"value"`
}

// Returns the vector as named fields, in layout order.
func (v Vector) Fields() []Field {
	out := make([]Field, NumFeatures)
	for i, val := range v {
		out[i] = Field{Name: Names[i], Value: val}
	}
	return out
}

// Reports whether every entry is a finite number (no NaN or Inf).
func (v Vector) Finite() bool {
	for _, val := range v {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
