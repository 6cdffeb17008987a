package tokenstore

import "os"

// ForceFileStorageEnv forces the encrypted file backend when set to "true",
// skipping the keyring probe entirely.
const ForceFileStorageEnv = "MCPCREDS_FORCE_FILE_STORAGE"

// LookupEnvFunc matches the signature of os.LookupEnv.
type LookupEnvFunc func(key string) (string, bool)

// forceFileRequested reports whether the environment forces file storage.
func forceFileRequested(lookup LookupEnvFunc) bool {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(ForceFileStorageEnv)
	return ok && value == "true"
}
