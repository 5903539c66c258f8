// Package telemetry projects dynamic-tree events into the stable external
// Redis key layout spec §4.6 defines, with JSON backup/restore to disk.
//
// Grounded on internal/trace/trace.go's canonical-representation
// discipline (deterministic, byte-stable serialization is the source of
// truth for "what happened") applied here to Redis key values instead of
// an in-memory trace, plus recovered detail from
// original_source/core/record/* and core/lua_script/lua_script_manager.py
// for the Lua-script / backup-file specifics spec.md only gestures at.
package telemetry

import "fmt"

// Keys derives every Redis key under one record_backup_index namespace
// (spec §4.6). Every key is a pure function of the index plus whatever
// coordinates the event needs — matching invariant 5 ("given an SPI one
// can reconstruct every key the runner wrote").
type Keys struct {
	RecordBackupIndex string
}

func (k Keys) TaskInfo() string   { return k.RecordBackupIndex + ":task_info" }
func (k Keys) RecordInfo() string { return k.RecordBackupIndex + ":record_info" }

func (k Keys) SummaryProcess() string { return k.RecordBackupIndex + ":summary_record:process" }

// CaseStatus is the main Case's terminal status blob, the case-level twin
// of ChildCaseStatus (spec §4.6, §8.1).
func (k Keys) CaseStatus() string { return k.RecordBackupIndex + ":case_record:status" }

func (k Keys) ChildCaseList() string {
	return k.RecordBackupIndex + ":child_case_record:child_case_list"
}

func (k Keys) ChildCaseProcess(idx int) string {
	return fmt.Sprintf("%s:child_case_record:%d:process", k.RecordBackupIndex, idx)
}

func (k Keys) ChildCaseStatus(idx int) string {
	return fmt.Sprintf("%s:child_case_record:%d:status", k.RecordBackupIndex, idx)
}

func (k Keys) StepProcess(caseID string, childCaseIdx int, stepID string) string {
	return fmt.Sprintf("%s:step_record:case:%s:child_case:%d:step:%s:process", k.RecordBackupIndex, caseID, childCaseIdx, stepID)
}

func (k Keys) StepStatus(caseID string, childCaseIdx int, stepID string) string {
	return fmt.Sprintf("%s:step_record:case:%s:child_case:%d:step:%s:status", k.RecordBackupIndex, caseID, childCaseIdx, stepID)
}

func (k Keys) InterfaceSuccessDetail(uuid, field string) string {
	return fmt.Sprintf("%s:interface_success_detail:%s:%s", k.RecordBackupIndex, uuid, field)
}

func (k Keys) InterfaceErrorDetail(uuid, field string) string {
	return fmt.Sprintf("%s:interface_error_detail:%s:%s", k.RecordBackupIndex, uuid, field)
}

// BackupFileName maps a record_backup_index to its on-disk backup name:
// ':' replaced with '_' plus a .json suffix (spec §6).
func BackupFileName(recordBackupIndex string) string {
	out := make([]byte, 0, len(recordBackupIndex)+5)
	for i := 0; i < len(recordBackupIndex); i++ {
		if recordBackupIndex[i] == ':' {
			out = append(out, '_')
		} else {
			out = append(out, recordBackupIndex[i])
		}
	}
	return string(out) + ".json"
}
