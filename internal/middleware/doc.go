// Package middleware 提供了 HTTP 請求處理的中間件。
//
// 目前包含身份驗證：從 Authorization 頭或 token 參數取得 JWT，
// 並把解析出的身份放進 gin.Context 供 handlers 使用。
package middleware
