package telemetry

// Event names used as the "event" field on log entries, so runs can be
// traced across the muxer, account and service scan scopes.
const (
	EventRunStart = "run_start"
	EventRunEnd   = "run_end"

	EventOrgExpandStart = "org_expand_start"
	EventOrgExpandEnd   = "org_expand_end"

	EventMuxerStart     = "muxer_start"
	EventMuxerQueueScan = "muxer_queue_scan"
	EventMuxerStat      = "muxer_stat"
	EventMuxerRetry     = "muxer_retry"
	EventMuxerEnd       = "muxer_end"

	EventAccountScanStart = "account_scan_start"
	EventAccountScanEnd   = "account_scan_end"
	EventAccountScanError = "account_scan_error"

	EventServiceScanStart = "service_scan_start"
	EventServiceScanEnd   = "service_scan_end"
)
