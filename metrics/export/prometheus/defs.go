package prometheus

import "github.com/MrEthical07/accountcore"

type counterDef struct {
	id   accountcore.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{accountcore.MetricLoginSuccess, "accountcore_login_success_total", "Successful logins."},
	{accountcore.MetricLoginFailure, "accountcore_login_failure_total", "Failed logins."},
	{accountcore.MetricLoginLocked, "accountcore_login_locked_total", "Login attempts rejected by lockout."},
	{accountcore.MetricLoginRateLimited, "accountcore_login_rate_limited_total", "Login attempts rejected by throttling."},
	{accountcore.MetricAccountLocked, "accountcore_account_locked_total", "Lockouts started."},
	{accountcore.MetricMFARequired, "accountcore_mfa_required_total", "Logins that required a second factor."},
	{accountcore.MetricMFASuccess, "accountcore_mfa_success_total", "Successful second-factor checks."},
	{accountcore.MetricMFAFailure, "accountcore_mfa_failure_total", "Failed second-factor checks."},
	{accountcore.MetricMFAReplay, "accountcore_mfa_replay_total", "Replayed TOTP codes."},
	{accountcore.MetricSignupSuccess, "accountcore_signup_success_total", "Accounts created by signup."},
	{accountcore.MetricSignupDuplicate, "accountcore_signup_duplicate_total", "Signups rejected as duplicate."},
	{accountcore.MetricPasswordResetRequest, "accountcore_password_reset_request_total", "Password reset requests."},
	{accountcore.MetricPasswordResetSuccess, "accountcore_password_reset_success_total", "Completed password resets."},
	{accountcore.MetricPasswordResetFailure, "accountcore_password_reset_failure_total", "Rejected password reset tokens."},
	{accountcore.MetricPasswordChangeSuccess, "accountcore_password_change_success_total", "Password changes."},
	{accountcore.MetricPasswordChangeInvalidOld, "accountcore_password_change_invalid_old_total", "Password changes with a wrong current password."},
	{accountcore.MetricPasswordChangeReuseRejected, "accountcore_password_change_reuse_rejected_total", "Password changes rejected for reuse."},
	{accountcore.MetricEmailVerificationSuccess, "accountcore_email_verification_success_total", "Verified email addresses."},
	{accountcore.MetricEmailVerificationFailure, "accountcore_email_verification_failure_total", "Rejected email verification tokens."},
	{accountcore.MetricOAuthLogin, "accountcore_oauth_login_total", "Logins through a linked provider."},
	{accountcore.MetricOAuthLinked, "accountcore_oauth_linked_total", "Provider identities linked."},
	{accountcore.MetricOAuthCreated, "accountcore_oauth_created_total", "Accounts created from a provider identity."},
	{accountcore.MetricSessionCreated, "accountcore_session_created_total", "Sessions created."},
	{accountcore.MetricSessionRevoked, "accountcore_session_revoked_total", "Sessions revoked."},
	{accountcore.MetricLogout, "accountcore_logout_total", "Logouts."},
	{accountcore.MetricAccountDisabled, "accountcore_account_disabled_total", "Accounts disabled."},
	{accountcore.MetricActivityAppendFailure, "accountcore_activity_append_failure_total", "Activity log appends that failed."},
}

const (
	latencyName = "accountcore_authenticate_latency_seconds"
	latencyHelp = "Session authentication latency."
)

// upper bounds of the non-cumulative snapshot buckets, +Inf excluded
var latencyBounds = func() []float64 {
	out := make([]float64, len(accountcore.LatencyBucketBounds))
	for i, d := range accountcore.LatencyBucketBounds {
		out[i] = d.Seconds()
	}
	return out
}()

// cumulativeBuckets converts snapshot buckets to the cumulative form client
// histograms use. It returns the bucket map and the total count.
func cumulativeBuckets(raw []uint64) (map[float64]uint64, uint64) {
	out := make(map[float64]uint64, len(latencyBounds))
	var running uint64
	for i, le := range latencyBounds {
		if i < len(raw) {
			running += raw[i]
		}
		out[le] = running
	}
	if len(raw) > len(latencyBounds) {
		running += raw[len(latencyBounds)]
	}
	return out, running
}
