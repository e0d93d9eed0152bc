// Package dsmtest implements a fake Data Collector, backed by
// httptest, for exercising the dsm client and the refresh workflow
// without a real appliance.
package dsmtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/google/uuid"

	"compellent/dsm"
)

const sessionCookie = "ApiConnectionSession"

// Server is a fake Data Collector. All state is kept in memory and
// may be seeded through the Add* helpers.
type Server struct {
	*httptest.Server

	scSerial string
	user     string
	password string

	mut      sync.Mutex
	seq      int
	sessions map[string]bool

	servers  map[string]dsm.ScServer
	volumes  map[string]dsm.ScVolume
	folders  map[string]dsm.ScVolumeFolder
	replays  map[string]dsm.ScReplay
	mappings map[string]dsm.ScMapping
	profiles map[string]dsm.ScMappingProfile

	logins int
}

// NewServer returns a started fake Data Collector serving TLS with a
// self signed certificate. Requests are logged to logWriter in Apache
// combined format, pass nil to discard.
func NewServer(scSerial, user, password string, logWriter io.Writer) *Server {
	if logWriter == nil {
		logWriter = io.Discard
	}

	srv := &Server{
		scSerial: scSerial,
		user:     user,
		password: password,
		sessions: map[string]bool{},
		servers:  map[string]dsm.ScServer{},
		volumes:  map[string]dsm.ScVolume{},
		folders:  map[string]dsm.ScVolumeFolder{},
		replays:  map[string]dsm.ScReplay{},
		mappings: map[string]dsm.ScMapping{},
		profiles: map[string]dsm.ScMappingProfile{},
	}

	router := mux.NewRouter()
	log := gorillaHandlers.CombinedLoggingHandler

	apiRouter := router.PathPrefix("/api/rest").Subrouter()

	apiRouter.Handle("/ApiConnection/Login", log(logWriter, http.HandlerFunc(srv.loginHandler))).Methods("POST")
	apiRouter.Handle("/ApiConnection/Logout", log(logWriter, http.HandlerFunc(srv.logoutHandler))).Methods("POST")

	apiRouter.Handle("/StorageCenter/StorageCenter/{scID}/ServerList", log(logWriter, http.HandlerFunc(srv.serverListHandler))).Methods("GET")
	apiRouter.Handle("/StorageCenter/ScServer/GetList", log(logWriter, http.HandlerFunc(srv.serverGetListHandler))).Methods("POST")
	apiRouter.Handle("/StorageCenter/ScServer/{serverID}/MappingList", log(logWriter, http.HandlerFunc(srv.serverMappingListHandler))).Methods("GET")

	apiRouter.Handle("/StorageCenter/ScVolume/GetList", log(logWriter, http.HandlerFunc(srv.volumeGetListHandler))).Methods("POST")
	apiRouter.Handle("/StorageCenter/ScVolume/{volumeID}/MappingList", log(logWriter, http.HandlerFunc(srv.volumeMappingListHandler))).Methods("GET")
	apiRouter.Handle("/StorageCenter/ScVolume/{volumeID}/MappingProfileList", log(logWriter, http.HandlerFunc(srv.mappingProfileListHandler))).Methods("GET")
	apiRouter.Handle("/StorageCenter/ScVolume/{volumeID}/MapToServer", log(logWriter, http.HandlerFunc(srv.mapToServerHandler))).Methods("POST")
	apiRouter.Handle("/StorageCenter/ScVolume/{volumeID}/Recycle", log(logWriter, http.HandlerFunc(srv.recycleHandler))).Methods("POST")
	apiRouter.Handle("/StorageCenter/ScVolume/{volumeID}/CreateReplay", log(logWriter, http.HandlerFunc(srv.createReplayHandler))).Methods("POST")
	apiRouter.Handle("/StorageCenter/ScVolume/{volumeID}/ReplayList", log(logWriter, http.HandlerFunc(srv.replayListHandler))).Methods("GET")
	apiRouter.Handle("/StorageCenter/ScVolume/{volumeID}", log(logWriter, http.HandlerFunc(srv.modifyVolumeHandler))).Methods("PUT")

	apiRouter.Handle("/StorageCenter/ScMappingProfile/{profileID}", log(logWriter, http.HandlerFunc(srv.deleteProfileHandler))).Methods("DELETE")

	apiRouter.Handle("/StorageCenter/ScReplay/{replayID}/CreateView", log(logWriter, http.HandlerFunc(srv.createViewHandler))).Methods("POST")

	apiRouter.Handle("/StorageCenter/ScVolumeFolder/{folderID}/VolumeList", log(logWriter, http.HandlerFunc(srv.volumeListHandler))).Methods("GET")
	apiRouter.Handle("/StorageCenter/ScVolumeFolder/{folderID}/VolumeFolderList", log(logWriter, http.HandlerFunc(srv.folderListHandler))).Methods("GET")
	apiRouter.Handle("/StorageCenter/ScVolumeFolder", log(logWriter, http.HandlerFunc(srv.createFolderHandler))).Methods("POST")

	apiRouter.PathPrefix("/").Handler(log(logWriter, http.HandlerFunc(srv.notFoundHandler)))

	srv.Server = httptest.NewTLSServer(router)
	return srv
}

// Logins reports the number of successful logins so far.
func (s *Server) Logins() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.logins
}

// Addr returns the host and port the fake server listens on.
func (s *Server) Addr() (string, int) {
	parsed, err := url.Parse(s.URL)
	if err != nil {
		panic(err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		panic(err)
	}
	return parsed.Hostname(), port
}

func (s *Server) nextID() string {
	s.seq++
	return fmt.Sprintf("%s.%d", s.scSerial, s.seq)
}

func (s *Server) scSerialNumber() int64 {
	serial, _ := strconv.ParseInt(s.scSerial, 10, 64)
	return serial
}

// AddServer seeds a server object.
func (s *Server) AddServer(name string) dsm.ScServer {
	s.mut.Lock()
	defer s.mut.Unlock()

	server := dsm.ScServer{
		InstanceID:     s.nextID(),
		InstanceName:   name,
		Name:           name,
		ScSerialNumber: s.scSerialNumber(),
		Status:         "Up",
	}
	s.servers[server.InstanceID] = server
	return server
}

// AddVolume seeds a volume object.
func (s *Server) AddVolume(name, deviceID string) dsm.ScVolume {
	s.mut.Lock()
	defer s.mut.Unlock()

	volume := dsm.ScVolume{
		InstanceID:     s.nextID(),
		InstanceName:   name,
		Name:           name,
		ScSerialNumber: s.scSerialNumber(),
		DeviceID:       deviceID,
		Status:         "Up",
	}
	s.volumes[volume.InstanceID] = volume
	return volume
}

// AddFolder seeds a volume folder.
func (s *Server) AddFolder(name string) dsm.ScVolumeFolder {
	s.mut.Lock()
	defer s.mut.Unlock()

	folder := dsm.ScVolumeFolder{
		InstanceID:     s.nextID(),
		InstanceName:   name,
		Name:           name,
		ScSerialNumber: s.scSerialNumber(),
	}
	s.folders[folder.InstanceID] = folder
	return folder
}

// MapVolumeToServer seeds a mapping and its mapping profile.
func (s *Server) MapVolumeToServer(volume dsm.ScVolume, server dsm.ScServer) dsm.ScMapping {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.addMapping(volume, server)
}

// addMapping must be called with the lock held.
func (s *Server) addMapping(volume dsm.ScVolume, server dsm.ScServer) dsm.ScMapping {
	mapping := dsm.ScMapping{
		InstanceID: s.nextID(),
		Server: dsm.InstanceRef{
			InstanceID:   server.InstanceID,
			InstanceName: server.Name,
			ObjectType:   "ScServer",
		},
		Volume: dsm.InstanceRef{
			InstanceID:   volume.InstanceID,
			InstanceName: volume.Name,
			ObjectType:   "ScVolume",
		},
		Lun: len(s.mappings) + 1,
	}
	s.mappings[mapping.InstanceID] = mapping

	profile := dsm.ScMappingProfile{
		InstanceID: s.nextID(),
		Server:     mapping.Server,
		Volume:     mapping.Volume,
	}
	s.profiles[profile.InstanceID] = profile
	return mapping
}

// GetVolume returns a seeded or created volume by instance ID.
func (s *Server) GetVolume(instanceID string) (dsm.ScVolume, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	volume, ok := s.volumes[instanceID]
	return volume, ok
}

// VolumeMappings returns the mappings of a volume.
func (s *Server) VolumeMappings(instanceID string) []dsm.ScMapping {
	s.mut.Lock()
	defer s.mut.Unlock()

	var mappings []dsm.ScMapping
	for _, mapping := range s.mappings {
		if mapping.Volume.InstanceID == instanceID {
			mappings = append(mappings, mapping)
		}
	}
	return mappings
}

// Replays returns all replays of a volume.
func (s *Server) Replays(volumeID string) []dsm.ScReplay {
	s.mut.Lock()
	defer s.mut.Unlock()

	var replays []dsm.ScReplay
	for _, replay := range s.replays {
		if replay.CreateVolume.InstanceID == volumeID {
			replays = append(replays, replay)
		}
	}
	return replays
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"result":   "Error",
		"messages": []string{msg},
	})
}

// checkSession validates basic auth and, for everything but login, the
// session cookie issued at login time.
func (s *Server) checkSession(w http.ResponseWriter, r *http.Request) bool {
	user, password, ok := r.BasicAuth()
	if !ok || user != s.user || password != s.password {
		writeAPIError(w, http.StatusUnauthorized, "invalid credentials")
		return false
	}

	if strings.HasSuffix(r.URL.Path, "/ApiConnection/Login") {
		return true
	}

	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "no session")
		return false
	}

	s.mut.Lock()
	defer s.mut.Unlock()
	if !s.sessions[cookie.Value] {
		writeAPIError(w, http.StatusUnauthorized, "invalid session")
		return false
	}
	return true
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}

	session := uuid.New().String()
	s.mut.Lock()
	s.sessions[session] = true
	s.logins++
	s.mut.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:  sessionCookie,
		Value: session,
		Path:  "/",
	})
	writeJSON(w, http.StatusOK, dsm.ApiConnection{
		InstanceID: s.nextIDLocked(),
		UserID:     1,
		UserName:   s.user,
	})
}

func (s *Server) nextIDLocked() string {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.nextID()
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}
	cookie, _ := r.Cookie(sessionCookie)
	s.mut.Lock()
	delete(s.sessions, cookie.Value)
	s.mut.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// writeList emits a list response padded with a null entry, the way
// the Data Collector pads results the session cannot see.
func writeList[T any](w http.ResponseWriter, items []T) {
	padded := make([]*T, 0, len(items)+1)
	padded = append(padded, nil)
	for i := range items {
		padded = append(padded, &items[i])
	}
	writeJSON(w, http.StatusOK, padded)
}

func (s *Server) serverListHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}
	if mux.Vars(r)["scID"] != s.scSerial {
		writeAPIError(w, http.StatusNotFound, "unknown storage center")
		return
	}

	s.mut.Lock()
	servers := make([]dsm.ScServer, 0, len(s.servers))
	for _, server := range s.servers {
		servers = append(servers, server)
	}
	s.mut.Unlock()
	writeList(w, servers)
}

type getListRequest struct {
	Filter dsm.Filter `json:"filter"`
}

func (g getListRequest) attribute(name string) (string, bool) {
	for _, item := range g.Filter.Filters {
		if item.AttributeName == name {
			return item.AttributeValue, true
		}
	}
	return "", false
}

func (s *Server) serverGetListHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}

	var req getListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed filter")
		return
	}

	name, _ := req.attribute("instanceName")
	s.mut.Lock()
	var matches []dsm.ScServer
	for _, server := range s.servers {
		if server.InstanceName == name {
			matches = append(matches, server)
		}
	}
	s.mut.Unlock()
	writeList(w, matches)
}

func (s *Server) serverMappingListHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}
	serverID := mux.Vars(r)["serverID"]

	s.mut.Lock()
	if _, ok := s.servers[serverID]; !ok {
		s.mut.Unlock()
		writeAPIError(w, http.StatusNotFound, "server not found")
		return
	}
	var mappings []dsm.ScMapping
	for _, mapping := range s.mappings {
		if mapping.Server.InstanceID == serverID {
			mappings = append(mappings, mapping)
		}
	}
	s.mut.Unlock()
	writeList(w, mappings)
}

func (s *Server) volumeGetListHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}

	var req getListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed filter")
		return
	}

	name, _ := req.attribute("instanceName")
	s.mut.Lock()
	var matches []dsm.ScVolume
	for _, volume := range s.volumes {
		if volume.InstanceName == name && !volume.InRecycleBin {
			matches = append(matches, volume)
		}
	}
	s.mut.Unlock()
	writeList(w, matches)
}

func (s *Server) volumeListHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}

	s.mut.Lock()
	volumes := make([]dsm.ScVolume, 0, len(s.volumes))
	for _, volume := range s.volumes {
		if !volume.InRecycleBin {
			volumes = append(volumes, volume)
		}
	}
	s.mut.Unlock()
	writeList(w, volumes)
}

func (s *Server) volumeMappingListHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}
	volumeID := mux.Vars(r)["volumeID"]

	s.mut.Lock()
	var mappings []dsm.ScMapping
	for _, mapping := range s.mappings {
		if mapping.Volume.InstanceID == volumeID {
			mappings = append(mappings, mapping)
		}
	}
	s.mut.Unlock()
	writeList(w, mappings)
}

func (s *Server) mappingProfileListHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}
	volumeID := mux.Vars(r)["volumeID"]

	s.mut.Lock()
	var profiles []dsm.ScMappingProfile
	for _, profile := range s.profiles {
		if profile.Volume.InstanceID == volumeID {
			profiles = append(profiles, profile)
		}
	}
	s.mut.Unlock()
	writeList(w, profiles)
}

func (s *Server) mapToServerHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}
	volumeID := mux.Vars(r)["volumeID"]

	var req struct {
		Server string `json:"Server"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mut.Lock()
	volume, volOK := s.volumes[volumeID]
	server, srvOK := s.servers[req.Server]
	if !volOK || !srvOK {
		s.mut.Unlock()
		writeAPIError(w, http.StatusNotFound, "volume or server not found")
		return
	}
	mapping := s.addMapping(volume, server)
	volume.Mapped = true
	s.volumes[volumeID] = volume
	s.mut.Unlock()
	writeJSON(w, http.StatusOK, mapping)
}

func (s *Server) deleteProfileHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}
	profileID := mux.Vars(r)["profileID"]

	s.mut.Lock()
	profile, ok := s.profiles[profileID]
	if !ok {
		s.mut.Unlock()
		writeAPIError(w, http.StatusNotFound, "mapping profile not found")
		return
	}
	delete(s.profiles, profileID)
	for id, mapping := range s.mappings {
		if mapping.Volume.InstanceID == profile.Volume.InstanceID &&
			mapping.Server.InstanceID == profile.Server.InstanceID {
			delete(s.mappings, id)
		}
	}
	s.mut.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) recycleHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}
	volumeID := mux.Vars(r)["volumeID"]

	s.mut.Lock()
	volume, ok := s.volumes[volumeID]
	if !ok {
		s.mut.Unlock()
		writeAPIError(w, http.StatusNotFound, "volume not found")
		return
	}
	volume.InRecycleBin = true
	s.volumes[volumeID] = volume
	s.mut.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) modifyVolumeHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}
	volumeID := mux.Vars(r)["volumeID"]

	var req dsm.ModifyVolumeParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mut.Lock()
	volume, ok := s.volumes[volumeID]
	if !ok {
		s.mut.Unlock()
		writeAPIError(w, http.StatusNotFound, "volume not found")
		return
	}
	if req.Name != "" {
		volume.Name = req.Name
		volume.InstanceName = req.Name
	}
	if req.StorageProfile != "" {
		volume.StorageProfile = dsm.InstanceRef{InstanceID: req.StorageProfile, ObjectType: "ScStorageProfile"}
	}
	if req.VolumeFolder != "" {
		volume.VolumeFolder = dsm.InstanceRef{InstanceID: req.VolumeFolder, ObjectType: "ScVolumeFolder"}
	}
	s.volumes[volumeID] = volume
	s.mut.Unlock()
	writeJSON(w, http.StatusOK, volume)
}

func (s *Server) createReplayHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}
	volumeID := mux.Vars(r)["volumeID"]

	var req struct {
		Description string `json:"Description"`
		ExpireTime  string `json:"ExpireTime"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mut.Lock()
	volume, ok := s.volumes[volumeID]
	if !ok {
		s.mut.Unlock()
		writeAPIError(w, http.StatusNotFound, "volume not found")
		return
	}
	replay := dsm.ScReplay{
		InstanceID:     s.nextID(),
		InstanceName:   req.Description,
		ScSerialNumber: s.scSerialNumber(),
		Description:    req.Description,
		CreateVolume: dsm.InstanceRef{
			InstanceID:   volume.InstanceID,
			InstanceName: volume.Name,
			ObjectType:   "ScVolume",
		},
		Expires:    req.ExpireTime != "0",
		ExpireTime: req.ExpireTime,
	}
	s.replays[replay.InstanceID] = replay
	s.mut.Unlock()
	writeJSON(w, http.StatusOK, replay)
}

func (s *Server) replayListHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}
	volumeID := mux.Vars(r)["volumeID"]

	s.mut.Lock()
	var replays []dsm.ScReplay
	for _, replay := range s.replays {
		if replay.CreateVolume.InstanceID == volumeID {
			replays = append(replays, replay)
		}
	}
	s.mut.Unlock()
	writeList(w, replays)
}

func (s *Server) createViewHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}
	replayID := mux.Vars(r)["replayID"]

	var req struct {
		Name         string `json:"Name"`
		VolumeFolder string `json:"VolumeFolder"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mut.Lock()
	replay, ok := s.replays[replayID]
	if !ok {
		s.mut.Unlock()
		writeAPIError(w, http.StatusNotFound, "replay not found")
		return
	}
	source := s.volumes[replay.CreateVolume.InstanceID]
	view := dsm.ScVolume{
		InstanceID:     s.nextID(),
		InstanceName:   req.Name,
		Name:           req.Name,
		ScSerialNumber: s.scSerialNumber(),
		// view volumes get their own SCSI identity
		DeviceID:       strings.ReplaceAll(uuid.New().String(), "-", ""),
		ConfiguredSize: source.ConfiguredSize,
		Status:         "Up",
	}
	if req.VolumeFolder != "" {
		view.VolumeFolder = dsm.InstanceRef{InstanceID: req.VolumeFolder, ObjectType: "ScVolumeFolder"}
	}
	s.volumes[view.InstanceID] = view
	s.mut.Unlock()
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) folderListHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}

	s.mut.Lock()
	folders := make([]dsm.ScVolumeFolder, 0, len(s.folders))
	for _, folder := range s.folders {
		folders = append(folders, folder)
	}
	s.mut.Unlock()
	writeList(w, folders)
}

func (s *Server) createFolderHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkSession(w, r) {
		return
	}

	var req struct {
		StorageCenter string `json:"StorageCenter"`
		Name          string `json:"Name"`
		Parent        string `json:"Parent"`
		Notes         string `json:"Notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeAPIError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mut.Lock()
	folder := dsm.ScVolumeFolder{
		InstanceID:     s.nextID(),
		InstanceName:   req.Name,
		Name:           req.Name,
		ScSerialNumber: s.scSerialNumber(),
		Parent:         dsm.InstanceRef{InstanceID: req.Parent, ObjectType: "ScVolumeFolder"},
		Notes:          req.Notes,
	}
	s.folders[folder.InstanceID] = folder
	s.mut.Unlock()
	writeJSON(w, http.StatusCreated, folder)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeAPIError(w, http.StatusNotFound, "resource not found")
}
