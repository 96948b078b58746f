// Package api 處理 HTTP 請求路由和處理。
//
// REST 端點提供房間的建立、查詢、投票與紀錄寫入，
// /api/rooms/:id/changes 以 Server-Sent Events 推送持久化變更，
// /api/ws 則是即時事件的 WebSocket 入口。
package api
