package events

// Event enumerates topics published by the pipeline. Broadcast topics double
// as the message keys on the live websocket.
type Event string

const (
	EventCandles        Event = "assetCandlestics"
	EventPriceLevels    Event = "priceLevels"
	EventStreaks        Event = "streaks"
	EventVolumeProfiles Event = "volumeProfiles"
	EventPriceActions   Event = "priceActions"
	EventVolatility     Event = "volatility"
	EventExtremum       Event = "extremum"

	// EventStreakClosed carries a ledger.Streak when a run completes.
	EventStreakClosed Event = "streak.closed"
)

// BroadcastTopics lists the topics forwarded to websocket clients.
var BroadcastTopics = []Event{
	EventCandles,
	EventPriceLevels,
	EventStreaks,
	EventVolumeProfiles,
	EventPriceActions,
	EventVolatility,
	EventExtremum,
}
