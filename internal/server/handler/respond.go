package handler

import (
	"net/http"

	"bluelab/internal/common"
	"bluelab/pkg/api"

	"github.com/gin-gonic/gin"
)

func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, api.Envelope[any]{
		Code:    common.SuccessCode,
		Message: "success",
		Data:    data,
	})
}

// respondErr reports err with the HTTP status matching its error number.
func respondErr(c *gin.Context, err error) {
	e := common.ConvertErr(err)
	c.AbortWithStatusJSON(httpStatus(e.ErrCode), api.Envelope[any]{
		Code:    e.ErrCode,
		Message: e.ErrMsg,
	})
}

func httpStatus(code int) int {
	switch code {
	case common.RequestInvalid:
		return http.StatusBadRequest
	case common.HistoryNotExists:
		return http.StatusNotFound
	case common.HistoryErr:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
