package discovery

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// ChatServerInfo is the content of a chat server TXT record.
type ChatServerInfo struct {
	PublicKey   *[32]byte
	MediatorURL string
}

// EncodeChatServerTXT creates the TXT records of a chat server.
func EncodeChatServerTXT(info *ChatServerInfo) TXTRecordMap {
	txt := make(TXTRecordMap)
	if info.PublicKey != nil {
		txt[TXTKeyPublicKey] = hex.EncodeToString(info.PublicKey[:])
	}
	if info.MediatorURL != "" {
		txt[TXTKeyMediatorURL] = info.MediatorURL
	}
	return txt
}

// DecodeChatServerTXT parses the TXT records of a chat server. All keys are
// optional, but a key that is present must be well formed.
func DecodeChatServerTXT(txt TXTRecordMap) (*ChatServerInfo, error) {
	info := &ChatServerInfo{MediatorURL: txt[TXTKeyMediatorURL]}

	if pk, ok := txt[TXTKeyPublicKey]; ok {
		raw, err := hex.DecodeString(pk)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("%w: %s is not a 32 byte hex key", ErrInvalidTXTRecord, TXTKeyPublicKey)
		}
		var key [32]byte
		copy(key[:], raw)
		info.PublicKey = &key
	}
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value" strings.
// This format is commonly used by mDNS libraries.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}
