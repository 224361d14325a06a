/*
Package chatsdk provides a client SDK for the anonymous random-match chat service.

# Overview

The chatsdk package covers every server capability the chat client needs: account
creation, login, thread and ticket management, historical messages, the notification
feed and the two websocket message channels. It is organized like most SDKs around
two types:

  - SDKClient: unauthenticated operations (create an account, exchange a secret for a token)
  - Session: authenticated operations with transparent re-login

Create an SDKClient for the service and exchange the user's secret for a Session:

	client := chatsdk.NewSDKClient("https://chat.example.com")

	// First run: mint an anonymous account and show the secret once
	secret, err := client.CreateUser(ctx)

	// Authenticate to create a session
	session, err := client.AuthenticateWithSecret(ctx, secret)

Use the Session for everything else:

	threads, err := session.ListThreads(ctx)
	ticketID, err := session.StartMatch(ctx)
	threadID, err := session.WaitTicket(ctx, ticketID)
	history, err := session.FetchMessages(ctx, threadID, chatsdk.TimestampOf(time.Now()))

# Credential Manager

A Session owns the secret and the current access token. Every authenticated call goes
through ValidToken, which:

 1. Returns the cached token if it has not expired (exp is read from the token itself)
 2. Otherwise logs in again with the stored secret, holding the session lock so that
    concurrent callers trigger exactly one login
 3. Caches and returns the new token

An incorrect secret is terminal: the session remembers the failure and every later call
returns ErrIncorrectCredential without contacting the server. A 401 on an authenticated
call discards the cached token and the request is re-issued once with a fresh one.

# Errors

All failures are *APIError values and can be matched with errors.Is against the
sentinels:

	ErrNetwork              transport failure (retry by policy)
	ErrService              unexpected status or body shape
	ErrIncorrectCredential  400 from login (terminal)
	ErrUnauthorized         401 after one re-login
	ErrTicketForbidden      403 on a ticket that is not ours
	ErrAlreadyMatching      429 on start-match
	ErrTimeout              524 on a long poll (expected, reopen)

IsAuth, IsTransient and UserMessage group and describe them. No SDK call retries on its
own; retry policy belongs to the caller.

# Streams

Long polls (WaitTicket, OpenNotifications) use StreamClient, which has no client-side
timeout; the server enforces its own. Cancel the context to abandon them.

The message channels are websockets. OpenMessages sends the resume offsets as the first
frame and returns a MessageConn whose frames are message JSON or the literal PING keep
alive, which the reader must answer with PONG. SendMessage opens a separate channel per
message, writes one frame and closes it.
*/
package chatsdk
