package rediscluster

import (
	"fmt"
	"strings"
)

// RoutingClass is the dispatch policy for a command.
type RoutingClass int

const (
	// ClassSingle routes by key-derived slot to one node (the default).
	ClassSingle RoutingClass = iota
	// ClassAllNodes fans out to every node (primaries and replicas).
	ClassAllNodes
	// ClassAllPrimaries fans out to primaries only.
	ClassAllPrimaries
	// ClassAllReplicas fans out to the read-serving set (replicas, falling
	// back to primaries where a shard has none).
	ClassAllReplicas
	// ClassScan is handled by the scan coordinator.
	ClassScan
	// ClassSpecialSubcommand re-dispatches on argument[1].
	ClassSpecialSubcommand
	// ClassRejected commands always fail with OrchestrationCommandNotSupported.
	ClassRejected
	// ClassAmbiguous commands always fail with AmbiguousNodeError.
	ClassAmbiguous
)

// Aggregator names the result-merging rule for a fanned-out command.
type Aggregator int

const (
	AggNone Aggregator = iota
	AggFirst
	AggSum
	AggConcatSorted
	AggSortedList
	AggListPerNode
	AggFlatten
	AggFlattenUniqueSorted
	AggMergeMapsSum
)

// commandSpec is the static routing policy for one command (or one
// command+subcommand pair).
type commandSpec struct {
	class         RoutingClass
	aggregator    Aggregator
	readOnly      bool
	firstKeyIndex int // index into args; -1 means "no key"
}

// firstKeyIndexless is the sentinel firstKeyIndex for keyless commands.
const firstKeyIndexless = -1

// commandTable holds the routing policy for every command this core knows
// about by name. Commands not present here fall through to the
// "(all others) -> slot-routed -> passthrough" default row: ClassSingle,
// AggNone, firstKeyIndex 0 (firstKeyIndexless for keylessCommands), and
// read-only exactly when listed in readOnlyCommands.
var commandTable = map[string]commandSpec{
	// AllNodes, first reply
	"acl":         {class: ClassAllNodes, aggregator: AggFirst},
	"auth":        {class: ClassAllNodes, aggregator: AggFirst},
	"bgrewriteaof": {class: ClassAllNodes, aggregator: AggFirst},
	"bgsave":      {class: ClassAllNodes, aggregator: AggFirst},
	"quit":        {class: ClassAllNodes, aggregator: AggFirst},
	"save":        {class: ClassAllNodes, aggregator: AggFirst},

	// AllNodes, other aggregations
	"lastsave": {class: ClassAllNodes, aggregator: AggSortedList},
	"role":     {class: ClassAllNodes, aggregator: AggListPerNode},

	// AllPrimaries
	"flushall": {class: ClassAllPrimaries, aggregator: AggFirst},
	"flushdb":  {class: ClassAllPrimaries, aggregator: AggFirst},
	"wait":     {class: ClassAllPrimaries, aggregator: AggSum},

	// AllReplicas (read-serving set)
	"keys":   {class: ClassAllReplicas, aggregator: AggConcatSorted, readOnly: true},
	"dbsize": {class: ClassAllReplicas, aggregator: AggSum, readOnly: true},

	// Scan coordinator
	"scan": {class: ClassScan},

	// Rejected: cluster orchestration verbs that aren't subcommand-dispatched
	"readonly":  {class: ClassRejected},
	"readwrite": {class: ClassRejected},
	"shutdown":  {class: ClassRejected},

	// Ambiguous: transaction verbs
	"multi":   {class: ClassAmbiguous},
	"exec":    {class: ClassAmbiguous},
	"discard": {class: ClassAmbiguous},
	"unwatch": {class: ClassAmbiguous},

	// Special-subcommand dispatch: argument[1] decides the real policy.
	"cluster": {class: ClassSpecialSubcommand},
	"client":  {class: ClassSpecialSubcommand},
	"memory":  {class: ClassSpecialSubcommand},
	"script":  {class: ClassSpecialSubcommand},
	"config":  {class: ClassSpecialSubcommand},
	"pubsub":  {class: ClassSpecialSubcommand},

	// EVAL-family: first key is not argument[0] but argument[2] ("for script
	// command, use the first key..."), kept from the teacher's CmdSlot.
	"eval":         {class: ClassSingle, firstKeyIndex: 2},
	"eval_ro":      {class: ClassSingle, firstKeyIndex: 2, readOnly: true},
	"evalsha":      {class: ClassSingle, firstKeyIndex: 2},
	"evalsha_ro":   {class: ClassSingle, firstKeyIndex: 2, readOnly: true},
	"fcall":        {class: ClassSingle, firstKeyIndex: 2},
	"fcall_ro":     {class: ClassSingle, firstKeyIndex: 2, readOnly: true},
}

// keylessCommands never derive a slot from their arguments: dispatch picks
// an arbitrary primary via Topology.Sample.
var keylessCommands = map[string]bool{
	"ping": true, "time": true, "randomkey": true,
	"info": true, "command": true, "dbsize": true, "lastsave": true,
	"hello": true, "select": true, "swapdb": true, "flushall": true,
	"flushdb": true,
}

// readOnlyCommands is the set of commands that may be served by a replica
// when replica use is enabled in config.
var readOnlyCommands = map[string]bool{
	"get": true, "mget": true, "strlen": true, "exists": true, "type": true,
	"ttl": true, "pttl": true, "expiretime": true, "pexpiretime": true,
	"hget": true, "hgetall": true, "hmget": true, "hkeys": true, "hvals": true,
	"hlen": true, "hstrlen": true, "hexists": true, "hrandfield": true,
	"lrange": true, "llen": true, "lindex": true, "lpos": true,
	"smembers": true, "scard": true, "sismember": true, "smismember": true,
	"srandmember": true, "sinter": true, "sunion": true, "sdiff": true,
	"zrange": true, "zrangebyscore": true, "zrangebylex": true, "zcard": true,
	"zscore": true, "zmscore": true, "zrank": true, "zrevrank": true,
	"zcount": true, "zlexcount": true, "zrandmember": true,
	"xrange": true, "xrevrange": true, "xlen": true, "xread": true,
	"getrange": true, "substr": true, "bitcount": true, "bitpos": true,
	"getbit": true, "dump": true, "object": true, "memory": true,
	"scan": true, "sscan": true, "hscan": true, "zscan": true,
	"keys": true, "eval_ro": true, "evalsha_ro": true, "fcall_ro": true,
	"geopos": true, "geodist": true, "geohash": true, "georadius_ro": true,
	"georadiusbymember_ro": true, "pfcount": true, "touch": true,
	"randomkey": true,
}

// clusterSubcommands holds the routing policy for `CLUSTER <sub>`.
var clusterSubcommands = map[string]commandSpec{
	"saveconfig":      {class: ClassAllNodes, aggregator: AggFirst},
	"addslots":        {class: ClassRejected},
	"delslots":        {class: ClassRejected},
	"failover":        {class: ClassRejected},
	"forget":          {class: ClassRejected},
	"meet":            {class: ClassRejected},
	"replicate":       {class: ClassRejected},
	"reset":           {class: ClassRejected},
	"set-config-epoch": {class: ClassRejected},
	"setslot":         {class: ClassRejected},
}

var clientSubcommands = map[string]commandSpec{
	"list":    {class: ClassAllNodes, aggregator: AggFlatten},
	"pause":   {class: ClassAllNodes, aggregator: AggFirst},
	"reply":   {class: ClassAllNodes, aggregator: AggFirst},
	"setname": {class: ClassAllNodes, aggregator: AggFirst},
}

var configSubcommands = map[string]commandSpec{
	"resetstat": {class: ClassAllNodes, aggregator: AggFirst},
	"rewrite":   {class: ClassAllNodes, aggregator: AggFirst},
	"set":       {class: ClassAllNodes, aggregator: AggFirst},
}

var memorySubcommands = map[string]commandSpec{
	"stats": {class: ClassAllNodes, aggregator: AggListPerNode},
	"purge": {class: ClassAllNodes, aggregator: AggFirst},
}

var scriptSubcommands = map[string]commandSpec{
	"debug": {class: ClassAllNodes, aggregator: AggFirst},
	"kill":  {class: ClassAllNodes, aggregator: AggFirst},
	"flush": {class: ClassAllPrimaries, aggregator: AggFirst},
	"load":  {class: ClassAllPrimaries, aggregator: AggFirst},
}

var pubsubSubcommands = map[string]commandSpec{
	"channels": {class: ClassAllNodes, aggregator: AggFlattenUniqueSorted},
	"numsub":   {class: ClassAllNodes, aggregator: AggMergeMapsSum},
	"numpat":   {class: ClassAllNodes, aggregator: AggSum},
}

var specialSubcommandTables = map[string]map[string]commandSpec{
	"cluster": clusterSubcommands,
	"client":  clientSubcommands,
	"config":  configSubcommands,
	"memory":  memorySubcommands,
	"script":  scriptSubcommands,
	"pubsub":  pubsubSubcommands,
}

// classifyCommand returns the routing spec for cmdName (already expected to
// be user-supplied case), defaulting to plain key-routed passthrough when
// the command isn't in the table.
func classifyCommand(cmdName string) commandSpec {
	lower := strings.ToLower(cmdName)
	if spec, ok := commandTable[lower]; ok {
		return spec
	}
	return commandSpec{
		class:         ClassSingle,
		aggregator:    AggNone,
		firstKeyIndex: firstKeyIndexOrKeyless(lower),
		readOnly:      readOnlyCommands[lower],
	}
}

func firstKeyIndexOrKeyless(lower string) int {
	if keylessCommands[lower] {
		return firstKeyIndexless
	}
	return 0
}

// classifySubcommand looks up the routing policy for a special-subcommand
// dispatch command (cluster/client/memory/script/config/pubsub), given the
// lowercased subcommand token from argument[1]. Unknown subcommands of a
// special-subcommand command are treated as ClassSingle passthrough to an
// arbitrary primary (sample), since the spec only enumerates the handful of
// administrative subcommands that need fan-out or rejection.
func classifySubcommand(cmdName, subName string) commandSpec {
	table, ok := specialSubcommandTables[strings.ToLower(cmdName)]
	if !ok {
		return commandSpec{class: ClassSingle, firstKeyIndex: firstKeyIndexless}
	}
	if spec, ok := table[strings.ToLower(subName)]; ok {
		return spec
	}
	return commandSpec{class: ClassSingle, firstKeyIndex: firstKeyIndexless}
}

// extractFirstKey returns the slot-determining key byte-string for cmdName
// given its arguments, or nil if the command is keyless.
func extractFirstKey(cmdName string, args []interface{}) []byte {
	spec := classifyCommand(cmdName)
	return extractKeyAt(spec.firstKeyIndex, args)
}

// extractKeyForSpec is extractFirstKey for a caller that already resolved
// spec (e.g. via classifySubcommand), so it doesn't re-derive the command's
// class from its bare name and lose that resolution.
func extractKeyForSpec(spec commandSpec, args []interface{}) []byte {
	return extractKeyAt(spec.firstKeyIndex, args)
}

func extractKeyAt(idx int, args []interface{}) []byte {
	if idx < 0 || idx >= len(args) {
		return nil
	}
	switch v := args[idx].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}

// shouldSendToPrimary reports whether a command must go to the primary: any
// command not classified read-only, or any command at all when replica use
// is disabled in config.
func shouldSendToPrimary(cmdName string, replicaEnabled bool) bool {
	if !replicaEnabled {
		return true
	}
	return !classifyCommand(cmdName).readOnly
}

// shouldSendToPrimaryForSpec is shouldSendToPrimary for a caller that
// already resolved spec, so an already-classified special subcommand keeps
// its own readOnly verdict instead of classifyCommand re-deriving one from
// the bare command name.
func shouldSendToPrimaryForSpec(spec commandSpec, replicaEnabled bool) bool {
	if !replicaEnabled {
		return true
	}
	return !spec.readOnly
}
