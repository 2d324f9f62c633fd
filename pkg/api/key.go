package api

// Key is a partitioning key, e.g. a username or a room id. Keys are compared
// lexicographically (byte-wise), which is what the partitioner assumes.
type Key string

// ZeroKey is the zero value of Key. As a range boundary it means unbounded:
// a range starting at ZeroKey reaches back to the start of the keyspace, and
// a range ending at ZeroKey reaches forward to the end of it.
const ZeroKey Key = ""
