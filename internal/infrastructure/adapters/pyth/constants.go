package pyth

const (
	HermesMainnetURL = "https://hermes.pyth.network"

	latestPricePath = "/v2/updates/price/latest"

	// Hermes allows far more, this keeps a single replica polite
	MaxRequestsPerSecond = 10
)
