// Package api is the JSON surface of the daemon: account registry,
// wallet views and quorum messaging.
package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/service/router"
	"github.com/looncoop/loon/service/wallet"
)

type Server struct {
	accounts core.AccountStore
	inbox    core.MessageStore
	engine   *wallet.Engine
	routerz  *router.Router
}

func New(accounts core.AccountStore, inbox core.MessageStore, engine *wallet.Engine, routerz *router.Router) *Server {
	return &Server{
		accounts: accounts,
		inbox:    inbox,
		engine:   engine,
		routerz:  routerz,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", s.listAccounts)
		r.Post("/", s.importAccount)

		r.Route("/{account_id}", func(r chi.Router) {
			r.Get("/", s.findAccount)
			r.Delete("/", s.deleteAccount)
			r.Put("/nick", s.setNick)

			r.Post("/participants", s.addParticipant)

			r.Post("/sync", s.sync)
			r.Get("/balance", s.balance)
			r.Get("/address", s.nextAddress)

			r.Get("/inbox", s.listInbox)
			r.Post("/calls", s.sendCall)
		})
	})

	return r
}

// accountView replaces the raw fingerprint array with its hex display
// form.
type accountView struct {
	ID          int64  `json:"id"`
	Nick        string `json:"nick"`
	Descriptor  string `json:"descriptor"`
	Fingerprint string `json:"fingerprint"`
	SyncStatus  string `json:"sync_status"`
}

func (s *Server) view(a *core.Account) accountView {
	return accountView{
		ID:          a.ID,
		Nick:        a.Nick,
		Descriptor:  a.Descriptor,
		Fingerprint: hex.EncodeToString(a.Fingerprint[:]),
		SyncStatus:  s.engine.SyncStatus(a.ID).String(),
	}
}

func accountID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "account_id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.List(r.Context())
	if err != nil {
		renderErr(w, err)
		return
	}

	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, s.view(a))
	}
	renderJSON(w, http.StatusOK, views)
}

func (s *Server) importAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Nick       string `json:"nick"`
		Descriptor string `json:"descriptor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Descriptor == "" {
		renderBadRequest(w, "nick and descriptor required")
		return
	}

	account, err := s.accounts.Import(r.Context(), body.Nick, body.Descriptor)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, http.StatusCreated, s.view(account))
}

func (s *Server) findAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		renderBadRequest(w, "bad account id")
		return
	}

	account, err := s.accounts.Find(r.Context(), id)
	if err != nil {
		renderErr(w, err)
		return
	}
	participants, err := s.accounts.Participants(r.Context(), id)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, http.StatusOK, map[string]any{
		"account":      s.view(account),
		"participants": participants,
	})
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		renderBadRequest(w, "bad account id")
		return
	}

	if err := s.accounts.Delete(r.Context(), id); err != nil {
		renderErr(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) setNick(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		renderBadRequest(w, "bad account id")
		return
	}

	var body struct {
		Nick string `json:"nick"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Nick == "" {
		renderBadRequest(w, "nick required")
		return
	}

	if err := s.accounts.SetNick(r.Context(), id, body.Nick); err != nil {
		renderErr(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"nick": body.Nick})
}

func (s *Server) addParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		renderBadRequest(w, "bad account id")
		return
	}

	var body struct {
		QuorumIndex int    `json:"quorum_index"`
		NPub        string `json:"npub"`
		Alias       string `json:"alias"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NPub == "" {
		renderBadRequest(w, "npub required")
		return
	}

	p := &core.Participant{
		AccountID:   id,
		QuorumIndex: body.QuorumIndex,
		NPub:        body.NPub,
		Alias:       body.Alias,
	}
	if err := s.accounts.AddParticipant(r.Context(), p); err != nil {
		renderErr(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, p)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		renderBadRequest(w, "bad account id")
		return
	}

	state, err := s.engine.Sync(r.Context(), id)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, http.StatusOK, map[string]any{
		"tip_height": state.TipHeight,
		"tip_hash":   state.TipHash.String(),
		"utxos":      len(state.UTXOs),
		"synced_at":  state.SyncedAt,
	})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		renderBadRequest(w, "bad account id")
		return
	}

	balance, err := s.engine.Balance(id)
	if err != nil {
		renderErr(w, err)
		return
	}
	renderJSON(w, http.StatusOK, balance)
}

func (s *Server) nextAddress(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		renderBadRequest(w, "bad account id")
		return
	}

	addr, err := s.engine.NextAddress(r.Context(), id)
	if err != nil {
		renderErr(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"address": addr.EncodeAddress()})
}

func (s *Server) listInbox(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		renderBadRequest(w, "bad account id")
		return
	}

	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 1000 {
		limit = n
	}

	var (
		entries []*core.InboxEntry
		err     error
	)
	if sender := r.URL.Query().Get("sender"); sender != "" {
		entries, err = s.inbox.ListSender(r.Context(), id, sender, limit)
	} else {
		entries, err = s.inbox.ListAccount(r.Context(), id, limit)
	}
	if err != nil {
		renderErr(w, err)
		return
	}
	renderJSON(w, http.StatusOK, entries)
}

func (s *Server) sendCall(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		renderBadRequest(w, "bad account id")
		return
	}

	var body struct {
		To   int    `json:"to"` // quorum index of the recipient
		Kind string `json:"kind"`
		Text string `json:"text"`
		Sign bool   `json:"sign"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderBadRequest(w, "bad call body")
		return
	}

	kind := core.EntryNote
	switch body.Kind {
	case "ack":
		kind = core.EntryAck
	case "nack":
		kind = core.EntryNack
	case "", "note":
	default:
		renderBadRequest(w, "kind must be note, ack or nack")
		return
	}

	env, err := s.routerz.Send(r.Context(), id, body.To, kind, body.Text, body.Sign)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, http.StatusCreated, map[string]any{
		"id":     env.ID,
		"signed": env.Sig != "",
	})
}
