package dsm

// Object types returned by the Data Collector REST API. Every object
// carries a Storage Center scoped instance ID of the form
// "{scSerial}.{id}".

// InstanceRef is an embedded reference to another API object.
type InstanceRef struct {
	InstanceID   string `json:"instanceId"`
	InstanceName string `json:"instanceName,omitempty"`
	ObjectType   string `json:"objectType,omitempty"`
}

// ApiConnection is returned on successful login.
type ApiConnection struct {
	InstanceID  string `json:"instanceId"`
	UserID      int32  `json:"userId"`
	UserName    string `json:"userName,omitempty"`
	APIVersion  string `json:"apiVersion,omitempty"`
	Application string `json:"application,omitempty"`
}

// ScServer is a server object attached to the Storage Center.
type ScServer struct {
	InstanceID     string `json:"instanceId"`
	InstanceName   string `json:"instanceName"`
	Name           string `json:"name"`
	ScSerialNumber int64  `json:"scSerialNumber"`
	OperatingSystem InstanceRef `json:"operatingSystem,omitempty"`
	Status         string `json:"status,omitempty"`
}

// ScVolume is a volume managed by the Storage Center.
type ScVolume struct {
	InstanceID     string `json:"instanceId"`
	InstanceName   string `json:"instanceName"`
	Name           string `json:"name"`
	ScSerialNumber int64  `json:"scSerialNumber"`
	// DeviceID is the page 83 SCSI identifier of the volume. Hosts
	// see this as the device WWID/serial.
	DeviceID       string      `json:"deviceId,omitempty"`
	ConfiguredSize string      `json:"configuredSize,omitempty"`
	Status         string      `json:"status,omitempty"`
	VolumeFolder   InstanceRef `json:"volumeFolder,omitempty"`
	StorageProfile InstanceRef `json:"storageProfile,omitempty"`
	Mapped         bool        `json:"mapped,omitempty"`
	InRecycleBin   bool        `json:"inRecycleBin,omitempty"`
}

// ScVolumeFolder is a folder in the volume tree.
type ScVolumeFolder struct {
	InstanceID     string      `json:"instanceId"`
	InstanceName   string      `json:"instanceName"`
	Name           string      `json:"name"`
	ScSerialNumber int64       `json:"scSerialNumber"`
	Parent         InstanceRef `json:"parent,omitempty"`
	Notes          string      `json:"notes,omitempty"`
}

// ScReplay is a point in time snapshot of a volume.
type ScReplay struct {
	InstanceID     string      `json:"instanceId"`
	InstanceName   string      `json:"instanceName"`
	ScSerialNumber int64       `json:"scSerialNumber"`
	Description    string      `json:"description,omitempty"`
	CreateVolume   InstanceRef `json:"createVolume,omitempty"`
	Expires        bool        `json:"expires,omitempty"`
	ExpireTime     string      `json:"expireTime,omitempty"`
	FreezeTime     string      `json:"freezeTime,omitempty"`
}

// ScMapping is a single volume to server mapping.
type ScMapping struct {
	InstanceID string      `json:"instanceId"`
	Server     InstanceRef `json:"server"`
	Volume     InstanceRef `json:"volume"`
	Lun        int         `json:"lun,omitempty"`
}

// ScMappingProfile describes how a volume is presented to a server.
type ScMappingProfile struct {
	InstanceID string      `json:"instanceId"`
	Server     InstanceRef `json:"server"`
	Volume     InstanceRef `json:"volume"`
}

// Filter is the search payload accepted by the GetList endpoints.
type Filter struct {
	FilterType string       `json:"filterType"`
	Filters    []FilterItem `json:"filters"`
}

// FilterItem is a single attribute constraint within a Filter.
type FilterItem struct {
	AttributeName  string `json:"attributeName"`
	AttributeValue string `json:"attributeValue"`
	FilterType     string `json:"filterType"`
}

// filterRequest wraps a Filter the way GetList expects it.
type filterRequest struct {
	Filter Filter `json:"filter"`
}

// andFilter builds an AND filter with equality constraints for each
// name/value pair.
func andFilter(pairs map[string]string) filterRequest {
	items := make([]FilterItem, 0, len(pairs))
	for name, value := range pairs {
		items = append(items, FilterItem{
			AttributeName:  name,
			AttributeValue: value,
			FilterType:     "Equals",
		})
	}
	return filterRequest{
		Filter: Filter{
			FilterType: "AND",
			Filters:    items,
		},
	}
}
