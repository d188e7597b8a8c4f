package dto

type PrefetchSource string

const (
	PrefetchMarketStatus PrefetchSource = "market_status"
	PrefetchOptionChain  PrefetchSource = "option_chain"
	PrefetchAccount      PrefetchSource = "account"
	PrefetchPositions    PrefetchSource = "positions"
	PrefetchNews         PrefetchSource = "news"
)

// PrefetchSources lists the sources in render order.
var PrefetchSources = []PrefetchSource{
	PrefetchMarketStatus,
	PrefetchOptionChain,
	PrefetchAccount,
	PrefetchPositions,
	PrefetchNews,
}

// PrefetchResult holds either the data for its Source or the error that
// prevented fetching it. Exactly one data field is populated on success.
type PrefetchResult struct {
	Source PrefetchSource
	Err    error

	MarketStatus *MarketStatus
	OptionChain  *OptionChain
	Account      *AccountSummary
	Positions    []Position
	News         []NewsHeadline
}

func (r PrefetchResult) OK() bool {
	return r.Err == nil
}

// PrefetchBundle is the keyed aggregation of one prefetch batch.
type PrefetchBundle map[PrefetchSource]PrefetchResult
