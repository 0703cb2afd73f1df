package raffleapi

type snapshotResponse struct {
	State                string   `json:"state"`
	EntranceFeeWei       string   `json:"entrance_fee_wei"`
	IntervalSeconds      int64    `json:"interval_seconds"`
	Players              []string `json:"players"`
	PlayerCount          int      `json:"player_count"`
	PotWei               string   `json:"pot_wei"`
	LastTimestamp        int64    `json:"last_timestamp"`
	RecentWinner         string   `json:"recent_winner,omitempty"`
	OutstandingRequestID uint64   `json:"outstanding_request_id,omitempty"`
}

type playerResponse struct {
	Index  int    `json:"index"`
	Player string `json:"player"`
}

type enterRequest struct {
	Player    string `json:"player"`
	AmountWei string `json:"amount_wei"`
}

type enterResponse struct {
	Player      string `json:"player"`
	PlayerCount int    `json:"player_count"`
	PotWei      string `json:"pot_wei"`
}

type upkeepCheckResponse struct {
	UpkeepNeeded bool                `json:"upkeep_needed"`
	Diagnostic   *diagnosticResponse `json:"diagnostic,omitempty"`
}

type upkeepPerformResponse struct {
	RequestID uint64 `json:"request_id"`
}

type diagnosticResponse struct {
	State          string `json:"state"`
	BalanceWei     string `json:"balance_wei"`
	PlayerCount    int    `json:"player_count"`
	ElapsedSeconds int64  `json:"elapsed_seconds,omitempty"`
}

type errorResponse struct {
	Error          string              `json:"error"`
	RequiredFeeWei string              `json:"required_fee_wei,omitempty"`
	Diagnostic     *diagnosticResponse `json:"diagnostic,omitempty"`
}
