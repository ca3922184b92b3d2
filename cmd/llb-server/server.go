package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	rejectionTimeout          = 500 * time.Millisecond
	errMaxConnectionsResponse = "-ERR max number of clients reached\r\n"
)

// serve starts the TCP server and blocks until shutdown.
func (app *application) serve() error {
	//
	// DESIGN
	// ------
	//
	// The main challenge is coordinating between new connections,
	// in-flight requests, and the shutdown signal without losing data
	// or hanging indefinitely.
	//
	// 1. CONNECTION LIMITING
	//    A buffered channel (`connLimiter`) acts as a semaphore that
	//    caps concurrent connections. A non-blocking send is a
	//    "try-acquire": if the buffer is full, the connection is
	//    rejected immediately.
	//
	// 2. GRACEFUL SHUTDOWN
	//    A dedicated goroutine listens for SIGINT/SIGTERM. On a
	//    signal it closes the listener to stop accepting, then waits
	//    for in-flight handlers via a WaitGroup, bounded by a context
	//    timeout so a stuck client can't hang the shutdown forever.
	//
	// 3. ERROR PROPAGATION
	//    The shutdown goroutine reports its result back over a
	//    channel so serve can return an appropriate error.
	//
	addr := fmt.Sprintf(":%d", app.config.port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	app.listener = ln

	serverAddr := ln.Addr().String()

	if app.readyCh != nil {
		close(app.readyCh)
	}

	shutdownError := make(chan error)
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		app.logger.Info("caught signal", "signal", s.String(), "address", serverAddr)
		app.logger.Info("shutting down server", "address", serverAddr)

		ctx, cancel := context.WithTimeout(context.Background(), app.config.shutdownTimeout)
		defer cancel()

		// Stop accepting new connections.
		if err := ln.Close(); err != nil {
			shutdownError <- err
		}

		wgDone := make(chan struct{})
		go func() {
			app.wg.Wait()
			close(wgDone)
		}()

		select {
		case <-wgDone:
			shutdownError <- nil // Clean shutdown
		case <-ctx.Done():
			shutdownError <- ctx.Err() // Timeout
		}
	}()

	app.logger.Info("server starting", "address", serverAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break // Normal shutdown path
			}
			app.logger.Error("failed to accept connection", "error", err, "address", serverAddr)
			continue
		}

		select {
		case app.connLimiter <- struct{}{}:
			app.wg.Add(1)
			go app.handleConnection(conn)
		default:
			app.logger.Info("rejecting connection, limit reached", "remote_addr", conn.RemoteAddr().String())

			// Strict deadline so a client that never reads can't
			// block the accept loop.
			_ = conn.SetWriteDeadline(time.Now().Add(rejectionTimeout))

			_, _ = conn.Write([]byte(errMaxConnectionsResponse))
			_ = conn.Close()
		}
	}

	err = <-shutdownError
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		app.logger.Error("server stopped with error", "error", err, "address", serverAddr)
		return err
	}

	app.logger.Info("server stopped gracefully", "address", serverAddr)
	return nil
}

// handleConnection manages the lifecycle of a single client connection.
func (app *application) handleConnection(conn net.Conn) {
	//
	// DESIGN
	// ------
	//
	// A request/response loop with buffered I/O and a "smart flush"
	// optimization for pipelined clients.
	//
	// Responses accumulate in a 4KB bufio.Writer instead of going to
	// the socket one syscall at a time. After processing a command we
	// check whether the parser still has buffered input; if so, the
	// client pipelined and we skip the flush, batching multiple
	// responses into one write. When the read buffer drains we flush
	// so the client isn't left waiting.
	//
	// The deferred operations guarantee that however the loop exits
	// (clean disconnect, parse error, timeout) we release the
	// semaphore slot, decrement the WaitGroup, flush any buffered
	// responses, and close the connection.
	//
	defer func() { <-app.connLimiter }()
	defer app.wg.Done()
	defer func() { _ = conn.Close() }()

	app.metrics.ConnectionAccepted()

	remoteAddr := conn.RemoteAddr().String()
	app.logger.Info("new connection", "remote_addr", remoteAddr)

	parser := NewParser(conn)
	writer := bufio.NewWriterSize(conn, 4096)

	// A parse error mid-pipeline must not swallow responses to the
	// commands that did succeed.
	defer func() { _ = writer.Flush() }()

	if app.config.idleTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(app.config.idleTimeout)); err != nil {
			app.logger.Error("failed to set initial read deadline", "error", err, "remote_addr", remoteAddr)
			return
		}
	}

	for {
		if app.config.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(app.config.idleTimeout)); err != nil {
				app.logger.Error("failed to set read deadline", "error", err, "remote_addr", remoteAddr)
				return
			}
		}

		parts, err := parser.Parse()
		if err != nil {
			if err == io.EOF {
				app.logger.Info("client disconnected", "remote_addr", remoteAddr)
			} else {
				app.logger.Error("parser error", "error", err, "remote_addr", remoteAddr)
			}
			return
		}

		app.router.Dispatch(app, writer, parts)

		if parser.Buffered() == 0 {
			if err := writer.Flush(); err != nil {
				app.logger.Error("failed to flush response", "error", err, "remote_addr", remoteAddr)
				return
			}
		}
	}
}
