package models

// AccessRequest carries the four external parameters of a workflow run.
type AccessRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	AccountID string `json:"account_id"`
	UserName  string `json:"user_name"`
}

// Parameters returns the request keyed by runbook input name. Empty fields
// are omitted so that document defaults apply.
func (r AccessRequest) Parameters() map[string]string {
	params := make(map[string]string, 4)
	set := func(k, v string) {
		if v != "" {
			params[k] = v
		}
	}
	set("StartTime", r.StartTime)
	set("EndTime", r.EndTime)
	set("AccountID", r.AccountID)
	set("UserName", r.UserName)
	return params
}
