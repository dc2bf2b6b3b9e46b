package event

// Type is the closed set of chain notification kinds. The feed reports these
// as strings; parsing them into an enum keeps the persister's dispatch
// exhaustive instead of string-keyed.
type Type string

const (
	TypeFollow          Type = "follow"
	TypeRepost          Type = "repost"
	TypeFavorite        Type = "favorite"
	TypeRemixCreate     Type = "remix_create"
	TypeRemixCosign     Type = "remix_cosign"
	TypeCreate          Type = "create"
	TypeTipSend         Type = "tip_send"
	TypeReaction        Type = "reaction"
	TypeSupporterRankUp Type = "supporter_rank_up"
	TypeChallengeReward Type = "challenge_reward"
	TypeUSDCPurchase    Type = "usdc_purchase"

	// Types minted by this subsystem rather than the feed.
	TypeMilestone       Type = "milestone"
	TypeMessage         Type = "message"
	TypeMessageReaction Type = "message_reaction"
	TypeBlast           Type = "blast"
)

var knownTypes = map[Type]struct{}{
	TypeFollow:          {},
	TypeRepost:          {},
	TypeFavorite:        {},
	TypeRemixCreate:     {},
	TypeRemixCosign:     {},
	TypeCreate:          {},
	TypeTipSend:         {},
	TypeReaction:        {},
	TypeSupporterRankUp: {},
	TypeChallengeReward: {},
	TypeUSDCPurchase:    {},
	TypeMilestone:       {},
	TypeMessage:         {},
	TypeMessageReaction: {},
	TypeBlast:           {},
}

// ParseType validates a feed type string. Unknown types are rejected so a
// feed schema drift surfaces as a fetch error, not a malformed row.
func ParseType(s string) (Type, bool) {
	t := Type(s)
	_, ok := knownTypes[t]
	return t, ok
}
