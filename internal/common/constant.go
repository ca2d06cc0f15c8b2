// Package common contains shared constants and sentinel errors used across
// the key management components.
package common

// App ids under which settings are stored in appconfig and preferences.
const (
	AppID       = "encryption"
	LegacyAppID = "files_encryption"
)

// Default module id. Every key written by this module lives below a
// directory named after it.
const DefaultModuleID = "OC_DEFAULT_MODULE"

// Key type suffixes used in key file names.
const (
	PublicKeyType  = "publicKey"
	PrivateKeyType = "privateKey"
	FileKeyName    = "fileKey"
	ShareKeySuffix = ".shareKey"
)

// Settings read from appconfig under AppID.
const (
	RecoveryKeyIDSetting        = "recoveryKeyId"
	PublicShareKeyIDSetting     = "publicShareKeyId"
	RecoveryAdminEnabledSetting = "recoveryAdminEnabled"
	DefaultRecoveryKeyID        = "recovery_id"
	DefaultPublicShareKeyID     = "pubShare_id"
)
