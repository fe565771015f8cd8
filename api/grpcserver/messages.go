package grpcserver

// Wire messages for relay.v1.UpdateGateway. Encoded with the json codec;
// Payload rides as base64 per encoding/json's []byte convention.

type IngestRequest struct {
	Channel string `json:"channel"`
	Pts     int32  `json:"pts"`
	Count   int32  `json:"count"`
	Payload []byte `json:"payload,omitempty"`
}

type IngestResponse struct {
	Status    string `json:"status"`
	Result    string `json:"result"`
	Confirmed int32  `json:"confirmed"`
}

type ChannelStatusRequest struct {
	Channel string `json:"channel"`
}

type ChannelStatusResponse struct {
	Channel        string `json:"channel"`
	Known          bool   `json:"known"`
	Inited         bool   `json:"inited"`
	Confirmed      int32  `json:"confirmed"`
	Last           int32  `json:"last"`
	Pending        int32  `json:"pending"`
	WaitingGapFill bool   `json:"waiting_gap_fill"`
	WaitingPoll    bool   `json:"waiting_poll"`
	Requesting     bool   `json:"requesting"`
	AppliedCount   uint64 `json:"applied_count"`
	BatchesApplied uint64 `json:"batches_applied"`
	LastPts        int32  `json:"last_pts"`
}

type ResyncRequest struct {
	Channel string `json:"channel"`
	Pts     int32  `json:"pts"`
}

type ResyncResponse struct {
	Status string `json:"status"`
}
