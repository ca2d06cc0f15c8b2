package models

// AppValue is a row of the appconfig table.
type AppValue struct {
	AppID string
	Key   string
	Value string
}

// Preference is a row of the preferences table.
type Preference struct {
	UserID string
	AppID  string
	Key    string
	Value  string
}
