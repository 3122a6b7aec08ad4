// internal/api/error_codes.go
package api

import (
	"github.com/Corphon/NovellaStudio/internal/services"
	"github.com/Corphon/NovellaStudio/internal/store"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMITED"

	// 故事相关错误
	ErrorStoryNotFound     = store.ErrorCodeStoryNotFound
	ErrorChapterNotFound   = store.ErrorCodeChapterNotFound
	ErrorCharacterNotFound = store.ErrorCodeCharacterNotFound
	ErrorWorldItemNotFound = store.ErrorCodeWorldItemNotFound
	ErrorNoActiveStory     = "NO_ACTIVE_STORY"
	ErrorFieldInvalid      = "FIELD_INVALID"

	// AI相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorGenesisPrerequisites  = services.ErrorCodeGenesisPrerequisites
	ErrorTaskInProgress        = services.ErrorCodeTaskInProgress

	// 导入导出相关错误
	ErrorImportExtractionFailed = services.ErrorCodeImportExtractionFailed
	ErrorFileUploadFailed       = "FILE_UPLOAD_FAILED"
	ErrorExportFormatInvalid    = services.ErrorCodeExportFormatInvalid

	// 进度跟踪
	ErrorTaskNotFound = "TASK_NOT_FOUND"
)
