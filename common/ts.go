package common

import "github.com/vinllen/mgo/bson"

// bson.MongoTimestamp packs a 32-bit unix-seconds value in the high bits
// and a 32-bit per-second ordinal in the low bits.

// ExtractMongoTimestamp returns the unix-seconds component of ts, matching
// utils.ExtractMongoTimestamp call sites in collector/syncer.go (used
// purely for human-readable logging and checkpoint-gap comparisons).
func ExtractMongoTimestamp(ts bson.MongoTimestamp) int64 {
	return int64(ts >> 32)
}

// TimestampToInt64 widens a MongoTimestamp to int64 for storage/logging,
// matching utils.TimestampToInt64 call sites.
func TimestampToInt64(ts bson.MongoTimestamp) int64 {
	return int64(ts)
}

// Int64ToTimestamp is the inverse of TimestampToInt64, used when loading a
// persisted resume marker back into a bson.MongoTimestamp.
func Int64ToTimestamp(v int64) bson.MongoTimestamp {
	return bson.MongoTimestamp(v)
}

// NewMongoTimestamp packs seconds/ordinal into a MongoTimestamp, used by
// tests and by a caller seeding the very first start position from
// replSetGetStatus's reported optime.
func NewMongoTimestamp(seconds, ordinal int32) bson.MongoTimestamp {
	return bson.MongoTimestamp(int64(seconds)<<32 | int64(ordinal))
}
