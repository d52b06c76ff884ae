package handlers

import (
	"io"

	"github.com/labstack/echo/v4"
)

func readBody(c echo.Context) ([]byte, error) {
	return io.ReadAll(c.Request().Body)
}
