package core

import (
	"fmt"
)

// User-facing messages.
const (
	MsgOnlyCSV       = "Only CSV files are allowed."
	MsgFileTooLarge  = "File size bigger than the maximum allowed size."
	MsgParseSuccess  = "Successfully completed parsing the csv file."
	MsgUploadSuccess = "Successfully uploaded CSV file."
	MsgParseError    = "Some unexpected error happened while parsing your cvs file. Please try again later. If the problem still persists than contact support."
	MsgCheckError    = "Some uexpected error happened while checking whether the file already exists. Please try again."
	MsgUploadError   = "Some uexpected error happened while uploading the csv file. Please try again."
)

// ConfirmOverwriteMessage is the prompt shown when fileName already exists remotely.
func ConfirmOverwriteMessage(fileName string) string {
	return fmt.Sprintf("A file with this name: %s already exists. Do you still wish to proceed with the upload? If you select OK then we will override the existing file.", fileName)
}

// ValidationError rejects a selected file. Message is the alert shown to the user.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ParseError wraps a failure of the parsing engine.
type ParseError struct {
	FileName string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.FileName, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ExistenceCheckError wraps a failed existence check, typically an *api.NetworkError.
type ExistenceCheckError struct {
	FileName string
	Err      error
}

func (e *ExistenceCheckError) Error() string {
	return fmt.Sprintf("failed to check whether %s exists: %v", e.FileName, e.Err)
}

func (e *ExistenceCheckError) Unwrap() error {
	return e.Err
}
